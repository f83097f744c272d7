package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PTLOAD"

// envKeys are the settings that may come from PTLOAD_* variables. Nested
// keys map dots to underscores, e.g. PTLOAD_TRACING_ENDPOINT.
var envKeys = []string{
	"root_url",
	"num_workers",
	"start_num_workers",
	"num_workers_skip",
	"num_iterations",
	"output_csv_filename",
	"variant",
	"dashboard",
	"json_output",
	"user",
	"password",
	"timeout",
	"report_interval",
	"log_level",
	"log_format",
	"metrics_addr",
	"h2c",
	"tracing.endpoint",
	"tracing.protocol",
	"tracing.service_name",
	"tracing.sample_rate",
	"tracing.insecure",
	"tracing.propagate",
}

// Loader resolves a Config from defaults, an optional config file, the
// environment and parsed command-line flags, in increasing precedence.
type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

// Load builds a Config from an already parsed flag set.
func (Loader) Load(fs *pflag.FlagSet) (*Config, error) {
	configPath, err := fs.GetString("config")
	if err != nil {
		configPath = ""
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	// Both variable names feed one key so env keeps precedence over the file.
	if err := v.BindEnv("iteration_length", envPrefix+"_ITERATION_LENGTH", envPrefix+"_ITERATION_LENGTH_SECONDS"); err != nil {
		return nil, err
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, v.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, fs); err != nil {
		return nil, err
	}

	cfg.RootURL = strings.TrimSpace(cfg.RootURL)
	cfg.OutputCSV = strings.TrimSpace(cfg.OutputCSV)
	cfg.Variant = strings.ToLower(strings.TrimSpace(cfg.Variant))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	return &cfg, nil
}

// applyConfigSettings applies file and environment settings to cfg.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "root_url", "rooturl", "root-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("root_url: %w", err)
		}
		cfg.RootURL = strings.TrimSpace(val)
	}

	ints := []struct {
		dst  *int
		keys []string
	}{
		{&cfg.NumWorkers, []string{"num_workers", "numworkers", "num-workers"}},
		{&cfg.StartNumWorkers, []string{"start_num_workers", "startnumworkers", "start-num-workers"}},
		{&cfg.NumWorkersSkip, []string{"num_workers_skip", "numworkersskip", "num-workers-skip"}},
		{&cfg.NumIterations, []string{"num_iterations", "numiterations", "num-iterations"}},
	}
	for _, field := range ints {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "iteration_length", "iterationlength", "iteration-length"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("iteration_length: %w", err)
		}
		cfg.IterationLength = dur
	} else if raw, ok := lookupSetting(settings, "iteration_length_seconds", "iteration-length-seconds"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("iteration_length_seconds: %w", err)
		}
		cfg.IterationLength = dur
	}

	strs := []struct {
		dst  *string
		keys []string
	}{
		{&cfg.OutputCSV, []string{"output_csv_filename", "output_csv", "output-csv-filename"}},
		{&cfg.Variant, []string{"variant"}},
		{&cfg.User, []string{"user", "username"}},
		{&cfg.Password, []string{"password"}},
		{&cfg.LogLevel, []string{"log_level", "loglevel", "log-level"}},
		{&cfg.LogFormat, []string{"log_format", "logformat", "log-format"}},
		{&cfg.MetricsAddr, []string{"metrics_addr", "metricsaddr", "metrics-addr"}},
	}
	for _, field := range strs {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = val
		}
	}

	bools := []struct {
		dst  *bool
		keys []string
	}{
		{&cfg.Dashboard, []string{"dashboard"}},
		{&cfg.JSONOutput, []string{"json_output", "jsonoutput", "json-output"}},
		{&cfg.H2C, []string{"h2c"}},
	}
	for _, field := range bools {
		if raw, ok := lookupSetting(settings, field.keys...); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", field.keys[0], err)
			}
			*field.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}
	if raw, ok := lookupSetting(settings, "report_interval", "reportinterval", "report-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("report_interval: %w", err)
		}
		cfg.ReportInterval = dur
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := parseTracing(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func parseTracing(t *TracingConfig, raw interface{}) error {
	section, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if val, ok := lookupSetting(section, "endpoint"); ok {
		s, err := asString(val)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(s)
	}
	if val, ok := lookupSetting(section, "protocol"); ok {
		s, err := asString(val)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(s))
	}
	if val, ok := lookupSetting(section, "service_name", "servicename", "service-name"); ok {
		s, err := asString(val)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = s
	}
	if val, ok := lookupSetting(section, "sample_rate", "samplerate", "sample-rate"); ok {
		f, err := asFloat64(val)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = f
	}
	if val, ok := lookupSetting(section, "insecure"); ok {
		b, err := asBool(val)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = b
	}
	if val, ok := lookupSetting(section, "propagate"); ok {
		b, err := asBool(val)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &b
	}
	return nil
}

// YAML renders the configuration with the password redacted.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
