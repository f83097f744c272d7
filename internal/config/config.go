// Package config loads ptload settings from flags, an optional YAML or JSON
// file, and PTLOAD_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Mode selects which orchestration entry point a configuration feeds.
type Mode string

const (
	ModeRun   Mode = "run"
	ModeSweep Mode = "sweep"
)

// Config is the fully resolved ptload configuration.
type Config struct {
	RootURL         string        `mapstructure:"root_url" yaml:"root_url"`
	NumWorkers      int           `mapstructure:"num_workers" yaml:"num_workers"`
	StartNumWorkers int           `mapstructure:"start_num_workers" yaml:"start_num_workers"`
	NumWorkersSkip  int           `mapstructure:"num_workers_skip" yaml:"num_workers_skip"`
	NumIterations   int           `mapstructure:"num_iterations" yaml:"num_iterations"`
	IterationLength time.Duration `mapstructure:"iteration_length" yaml:"iteration_length"`
	OutputCSV       string        `mapstructure:"output_csv_filename" yaml:"output_csv_filename,omitempty"`
	Variant         string        `mapstructure:"variant" yaml:"variant"`
	Dashboard       bool          `mapstructure:"dashboard" yaml:"dashboard"`
	JSONOutput      bool          `mapstructure:"json_output" yaml:"json_output"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ReportInterval  time.Duration `mapstructure:"report_interval" yaml:"report_interval"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string        `mapstructure:"log_format" yaml:"log_format"`
	MetricsAddr     string        `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
	H2C             bool          `mapstructure:"h2c" yaml:"h2c"`
	Tracing         TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	ConfigFile      string        `mapstructure:"-" yaml:"-"`
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Protocol    string  `mapstructure:"protocol" yaml:"protocol,omitempty"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name,omitempty"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	Propagate   *bool   `mapstructure:"propagate" yaml:"propagate,omitempty"`
}

// Enabled reports whether an OTLP endpoint is configured, either explicitly
// or through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context is sent to the target.
// It defaults to true once tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if !t.Enabled() {
		return false
	}
	if t.Propagate != nil {
		return *t.Propagate
	}
	return true
}

// Default returns the built-in defaults for every mode.
func Default() Config {
	return Config{
		NumWorkers:      1,
		StartNumWorkers: 5,
		NumWorkersSkip:  5,
		NumIterations:   5,
		IterationLength: 10 * time.Second,
		Variant:         "moving",
		Timeout:         30 * time.Second,
		ReportInterval:  time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		Tracing:         TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "***"
	}
	return c
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the settings that mode depends on.
func (c Config) Validate(mode Mode) error {
	var issues []string

	if strings.TrimSpace(c.RootURL) == "" {
		issues = append(issues, "root_url is required (use --help for usage information)")
	} else if u, err := url.Parse(c.RootURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("root_url %q must be an absolute http or https URL", c.RootURL))
	}

	switch mode {
	case ModeRun:
		if c.NumWorkers < 1 {
			issues = append(issues, "num_workers must be >= 1")
		}
	case ModeSweep:
		if c.StartNumWorkers < 1 {
			issues = append(issues, "start_num_workers must be >= 1")
		}
		if c.NumWorkersSkip < 0 {
			issues = append(issues, "num_workers_skip must be >= 0")
		}
		if c.NumIterations < 0 {
			issues = append(issues, "num_iterations must be >= 0")
		}
		if c.IterationLength < 0 {
			issues = append(issues, "iteration_length must be >= 0")
		}
		if strings.TrimSpace(c.OutputCSV) == "" {
			issues = append(issues, "output_csv_filename is required for sweep")
		}
	default:
		issues = append(issues, fmt.Sprintf("unknown mode %q", mode))
	}

	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.ReportInterval <= 0 {
		issues = append(issues, "report_interval must be > 0")
	}
	switch strings.ToLower(c.Variant) {
	case "", "moving", "moving_average", "moving-average", "cumulative", "total":
	default:
		issues = append(issues, fmt.Sprintf("variant %q is not supported (use moving or cumulative)", c.Variant))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format %q is not supported (use text or json)", c.LogFormat))
	}
	if c.Dashboard && mode == ModeSweep {
		issues = append(issues, "dashboard is only available in run mode")
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json_output are mutually exclusive")
	}
	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol %q is not supported (use grpc or http)", t.Protocol))
	}
	return issues
}
