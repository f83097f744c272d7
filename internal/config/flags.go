package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// RegisterPersistentFlags registers the settings shared by every subcommand.
func RegisterPersistentFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML)")

	// Credentials
	flags.String("user", "", "Login user name (env PTLOAD_USER)")
	flags.String("password", "", "Login password (env PTLOAD_PASSWORD)")

	// Transport
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.Bool("h2c", false, "Speak cleartext HTTP/2 to the target")

	// Reporting and logging
	flags.Duration("report_interval", time.Second, "Interval between metric reports")
	flags.String("log_level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log_format", "text", "Log format: 'text' or 'json'")
	flags.String("metrics_addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	// Tracing
	flags.String("tracing_endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing_protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing_insecure", false, "Disable TLS to the OTLP collector")
	flags.Float64("tracing_sample_rate", 1.0, "Fraction of requests to trace (0.0-1.0)")
}

// RegisterRunFlags registers the flags of the fire-and-forget mode.
func RegisterRunFlags(flags *pflag.FlagSet) {
	flags.StringP("root_url", "u", "", "Root URL of the target application")
	flags.IntP("num_workers", "n", 1, "Number of concurrent workers")
	flags.StringP("output_csv_filename", "f", "", "Append periodic rows to this CSV file")
	flags.String("variant", "moving", "Metrics variant: 'moving' or 'cumulative'")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
}

// RegisterSweepFlags registers the flags of the iterative sweep mode.
func RegisterSweepFlags(flags *pflag.FlagSet) {
	flags.StringP("root_url", "u", "", "Root URL of the target application")
	flags.IntP("start_num_workers", "w", 5, "Worker count of the first iteration")
	flags.IntP("num_workers_skip", "s", 5, "Workers added per iteration")
	flags.IntP("num_iterations", "n", 5, "Number of iterations")
	flags.IntP("iteration_length_seconds", "l", 10, "Length of each iteration in seconds")
	flags.StringP("output_csv_filename", "f", "", "CSV file receiving one row per iteration")
	flags.Bool("json_output", false, "Print the sweep summary as JSON")
}

// RegisterConfigFlags registers every mode's settings for the config dump.
// Sweep-only flags get no shorthand since -n differs between the modes.
func RegisterConfigFlags(flags *pflag.FlagSet) {
	RegisterRunFlags(flags)
	flags.Int("start_num_workers", 5, "Worker count of the first sweep iteration")
	flags.Int("num_workers_skip", 5, "Workers added per sweep iteration")
	flags.Int("num_iterations", 5, "Number of sweep iterations")
	flags.Int("iteration_length_seconds", 10, "Length of each sweep iteration in seconds")
	flags.Bool("json_output", false, "Print the sweep summary as JSON")
}

// applyFlagOverrides copies explicitly set flags onto cfg. Flags that were
// not registered on fs are ignored.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("root_url") {
		val, err := fs.GetString("root_url")
		if err != nil {
			return err
		}
		cfg.RootURL = strings.TrimSpace(val)
	}
	if fs.Changed("num_workers") {
		val, err := fs.GetInt("num_workers")
		if err != nil {
			return err
		}
		cfg.NumWorkers = val
	}
	if fs.Changed("start_num_workers") {
		val, err := fs.GetInt("start_num_workers")
		if err != nil {
			return err
		}
		cfg.StartNumWorkers = val
	}
	if fs.Changed("num_workers_skip") {
		val, err := fs.GetInt("num_workers_skip")
		if err != nil {
			return err
		}
		cfg.NumWorkersSkip = val
	}
	if fs.Changed("num_iterations") {
		val, err := fs.GetInt("num_iterations")
		if err != nil {
			return err
		}
		cfg.NumIterations = val
	}
	if fs.Changed("iteration_length_seconds") {
		val, err := fs.GetInt("iteration_length_seconds")
		if err != nil {
			return err
		}
		cfg.IterationLength = time.Duration(val) * time.Second
	}
	if fs.Changed("output_csv_filename") {
		val, err := fs.GetString("output_csv_filename")
		if err != nil {
			return err
		}
		cfg.OutputCSV = strings.TrimSpace(val)
	}
	if fs.Changed("variant") {
		val, err := fs.GetString("variant")
		if err != nil {
			return err
		}
		cfg.Variant = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("json_output") {
		val, err := fs.GetBool("json_output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("user") {
		val, err := fs.GetString("user")
		if err != nil {
			return err
		}
		cfg.User = val
	}
	if fs.Changed("password") {
		val, err := fs.GetString("password")
		if err != nil {
			return err
		}
		cfg.Password = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("h2c") {
		val, err := fs.GetBool("h2c")
		if err != nil {
			return err
		}
		cfg.H2C = val
	}
	if fs.Changed("report_interval") {
		val, err := fs.GetDuration("report_interval")
		if err != nil {
			return err
		}
		cfg.ReportInterval = val
	}
	if fs.Changed("log_level") {
		val, err := fs.GetString("log_level")
		if err != nil {
			return err
		}
		cfg.LogLevel = val
	}
	if fs.Changed("log_format") {
		val, err := fs.GetString("log_format")
		if err != nil {
			return err
		}
		cfg.LogFormat = val
	}
	if fs.Changed("metrics_addr") {
		val, err := fs.GetString("metrics_addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}
	return applyTracingFlagOverrides(&cfg.Tracing, fs)
}

func applyTracingFlagOverrides(t *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing_endpoint") {
		val, err := fs.GetString("tracing_endpoint")
		if err != nil {
			return err
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing_protocol") {
		val, err := fs.GetString("tracing_protocol")
		if err != nil {
			return err
		}
		t.Protocol = val
	}
	if fs.Changed("tracing_insecure") {
		val, err := fs.GetBool("tracing_insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	if fs.Changed("tracing_sample_rate") {
		val, err := fs.GetFloat64("tracing_sample_rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	return nil
}
