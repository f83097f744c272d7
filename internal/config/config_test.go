package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ptracker/ptload/internal/config"
)

func runFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	config.RegisterPersistentFlags(fs)
	config.RegisterRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return fs
}

func sweepFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	config.RegisterPersistentFlags(fs)
	config.RegisterSweepFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.NewLoader().Load(runFlags(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RootURL != "" {
		t.Errorf("RootURL = %q, want empty", cfg.RootURL)
	}
	if cfg.NumWorkers != 1 {
		t.Errorf("NumWorkers = %d, want 1", cfg.NumWorkers)
	}
	if cfg.StartNumWorkers != 5 || cfg.NumWorkersSkip != 5 || cfg.NumIterations != 5 {
		t.Errorf("sweep defaults = %d/%d/%d, want 5/5/5", cfg.StartNumWorkers, cfg.NumWorkersSkip, cfg.NumIterations)
	}
	if cfg.IterationLength != 10*time.Second {
		t.Errorf("IterationLength = %s, want 10s", cfg.IterationLength)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
	if cfg.ReportInterval != time.Second {
		t.Errorf("ReportInterval = %s, want 1s", cfg.ReportInterval)
	}
	if cfg.Variant != "moving" {
		t.Errorf("Variant = %q, want moving", cfg.Variant)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("Tracing.SampleRate = %g, want 1.0", cfg.Tracing.SampleRate)
	}
}

func TestLoadRunFlags(t *testing.T) {
	fs := runFlags(t, "-u", "http://tracker.local/", "-n", "8", "-f", " out.csv ", "--variant", "Cumulative")
	cfg, err := config.NewLoader().Load(fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RootURL != "http://tracker.local/" {
		t.Errorf("RootURL = %q", cfg.RootURL)
	}
	if cfg.NumWorkers != 8 {
		t.Errorf("NumWorkers = %d, want 8", cfg.NumWorkers)
	}
	if cfg.OutputCSV != "out.csv" {
		t.Errorf("OutputCSV = %q, want out.csv", cfg.OutputCSV)
	}
	if cfg.Variant != "cumulative" {
		t.Errorf("Variant = %q, want cumulative", cfg.Variant)
	}
	if err := cfg.Validate(config.ModeRun); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadSweepFlags(t *testing.T) {
	fs := sweepFlags(t, "-u", "http://tracker.local", "-w", "2", "-s", "3", "-n", "4", "-l", "7", "-f", "sweep.csv")
	cfg, err := config.NewLoader().Load(fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.StartNumWorkers != 2 || cfg.NumWorkersSkip != 3 || cfg.NumIterations != 4 {
		t.Errorf("sweep = %d/%d/%d, want 2/3/4", cfg.StartNumWorkers, cfg.NumWorkersSkip, cfg.NumIterations)
	}
	if cfg.IterationLength != 7*time.Second {
		t.Errorf("IterationLength = %s, want 7s", cfg.IterationLength)
	}
	if err := cfg.Validate(config.ModeSweep); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ptload.yaml")
	content := `
root_url: http://tracker.local
num_workers: 12
iteration_length: 2m
user: alice
password: hunter2
report_interval: 500ms
tracing:
  endpoint: collector:4317
  sample_rate: 0.25
  propagate: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load(runFlags(t, "--config", path, "-n", "3"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.RootURL != "http://tracker.local" {
		t.Errorf("RootURL = %q", cfg.RootURL)
	}
	if cfg.NumWorkers != 3 {
		t.Errorf("NumWorkers = %d, want flag value 3", cfg.NumWorkers)
	}
	if cfg.IterationLength != 2*time.Minute {
		t.Errorf("IterationLength = %s, want 2m", cfg.IterationLength)
	}
	if cfg.User != "alice" || cfg.Password != "hunter2" {
		t.Errorf("credentials = %q/%q", cfg.User, cfg.Password)
	}
	if cfg.ReportInterval != 500*time.Millisecond {
		t.Errorf("ReportInterval = %s, want 500ms", cfg.ReportInterval)
	}
	if cfg.Tracing.Endpoint != "collector:4317" || cfg.Tracing.SampleRate != 0.25 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Tracing.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false")
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ptload.json")
	if err := os.WriteFile(path, []byte(`{"root_url": "https://tracker.local", "start_num_workers": 10, "iteration_length_seconds": 30}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load(sweepFlags(t, "--config", path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StartNumWorkers != 10 {
		t.Errorf("StartNumWorkers = %d, want 10", cfg.StartNumWorkers)
	}
	if cfg.IterationLength != 30*time.Second {
		t.Errorf("IterationLength = %s, want 30s", cfg.IterationLength)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.NewLoader().Load(runFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PTLOAD_USER", "env-user")
	t.Setenv("PTLOAD_PASSWORD", "env-pass")
	t.Setenv("PTLOAD_NUM_WORKERS", "6")
	t.Setenv("PTLOAD_TRACING_ENDPOINT", "otel:4318")

	cfg, err := config.NewLoader().Load(runFlags(t, "--user", "flag-user"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.User != "flag-user" {
		t.Errorf("User = %q, want flag to win over env", cfg.User)
	}
	if cfg.Password != "env-pass" {
		t.Errorf("Password = %q, want env-pass", cfg.Password)
	}
	if cfg.NumWorkers != 6 {
		t.Errorf("NumWorkers = %d, want 6", cfg.NumWorkers)
	}
	if cfg.Tracing.Endpoint != "otel:4318" {
		t.Errorf("Tracing.Endpoint = %q, want otel:4318", cfg.Tracing.Endpoint)
	}
}

func TestLoadIterationLengthEnvBeatsFile(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  string
		val  string
		want time.Duration
	}{
		{"seconds env over file", "iteration_length: 30s\n", "PTLOAD_ITERATION_LENGTH_SECONDS", "3", 3 * time.Second},
		{"env over seconds file", "iteration_length_seconds: 30\n", "PTLOAD_ITERATION_LENGTH", "5s", 5 * time.Second},
		{"file alone", "iteration_length_seconds: 30\n", "", "", 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ptload.yaml")
			if err := os.WriteFile(path, []byte(tt.file), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if tt.env != "" {
				t.Setenv(tt.env, tt.val)
			}

			cfg, err := config.NewLoader().Load(sweepFlags(t, "--config", path))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.IterationLength != tt.want {
				t.Errorf("IterationLength = %s, want %s", cfg.IterationLength, tt.want)
			}
		})
	}
}

func TestConfigValidationErrors(t *testing.T) {
	cfg := config.Default()
	cfg.RootURL = "tracker.local"
	cfg.NumWorkers = 0
	cfg.Variant = "median"
	cfg.Tracing.SampleRate = 2

	err := cfg.Validate(config.ModeRun)
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want ValidationError", err)
	}

	issues := strings.Join(verr.Issues(), "\n")
	for _, want := range []string{"root_url", "num_workers", "variant", "sample_rate"} {
		if !strings.Contains(issues, want) {
			t.Errorf("issues missing %q:\n%s", want, issues)
		}
	}
}

func TestSweepRequiresOutputFile(t *testing.T) {
	cfg := config.Default()
	cfg.RootURL = "http://tracker.local"

	if err := cfg.Validate(config.ModeRun); err != nil {
		t.Errorf("run Validate() error = %v, want nil", err)
	}
	err := cfg.Validate(config.ModeSweep)
	if err == nil || !strings.Contains(err.Error(), "output_csv_filename") {
		t.Errorf("sweep Validate() error = %v, want output_csv_filename issue", err)
	}
}

func TestDashboardExclusions(t *testing.T) {
	cfg := config.Default()
	cfg.RootURL = "http://tracker.local"
	cfg.OutputCSV = "out.csv"
	cfg.Dashboard = true

	if err := cfg.Validate(config.ModeSweep); err == nil {
		t.Error("Validate(sweep) with dashboard = nil, want error")
	}
	cfg.JSONOutput = true
	if err := cfg.Validate(config.ModeRun); err == nil {
		t.Error("Validate(run) with dashboard and json = nil, want error")
	}
}

func TestTracingEnabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var tc config.TracingConfig
	if tc.Enabled() || tc.ShouldPropagate() {
		t.Error("empty TracingConfig should be disabled")
	}
	tc.Endpoint = "localhost:4317"
	if !tc.Enabled() || !tc.ShouldPropagate() {
		t.Error("TracingConfig with endpoint should be enabled and propagate")
	}
}

func TestYAMLRedactsPassword(t *testing.T) {
	cfg := config.Default()
	cfg.RootURL = "http://tracker.local"
	cfg.Password = "hunter2"

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	if strings.Contains(string(out), "hunter2") {
		t.Errorf("YAML output leaks password:\n%s", out)
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if decoded["root_url"] != "http://tracker.local" {
		t.Errorf("root_url = %v", decoded["root_url"])
	}
	if decoded["timeout"] != "30s" {
		t.Errorf("timeout = %v, want 30s", decoded["timeout"])
	}
	if cfg.Password != "hunter2" {
		t.Error("YAML() mutated the receiver")
	}
}
