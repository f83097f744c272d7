package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ptracker/ptload/internal/config"
	"github.com/ptracker/ptload/internal/dashboard"
	"github.com/ptracker/ptload/internal/httpclient"
	"github.com/ptracker/ptload/internal/loadtest"
	"github.com/ptracker/ptload/internal/metrics"
	"github.com/ptracker/ptload/internal/output"
	"github.com/ptracker/ptload/internal/report"
)

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ptload",
		Short:         "Load generator for the interval tracker web application",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.RegisterPersistentFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCommand(stdout, stderr),
		newSweepCommand(stdout, stderr),
		newConfigCommand(stdout),
	)
	return root
}

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run workers against the index page until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, config.ModeRun)
			if err != nil {
				return err
			}
			return runForever(cmd.Context(), cfg, stdout, stderr)
		},
	}
	config.RegisterRunFlags(cmd.Flags())
	return cmd
}

func newSweepCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run fixed-length iterations with a growing worker count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, config.ModeSweep)
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cfg, stdout, stderr)
		},
	}
	config.RegisterSweepFlags(cmd.Flags())
	return cmd
}

func newConfigCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader().Load(cmd.Flags())
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = stdout.Write(out)
			return err
		},
	}
	config.RegisterConfigFlags(cmd.Flags())
	return cmd
}

func loadConfig(cmd *cobra.Command, mode config.Mode) (*config.Config, error) {
	cfg, err := config.NewLoader().Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runForever(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	variant, err := metrics.ParseVariant(cfg.Variant)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logOut := stderr
	if cfg.Dashboard {
		// the dashboard owns the terminal
		logOut = io.Discard
	}
	env, err := newEnvironment(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer env.Close()

	opts := baseOptions(cfg, env)
	opts.NumWorkers = cfg.NumWorkers
	opts.Variant = variant

	var csvOut *report.CSVWriter
	if cfg.OutputCSV != "" {
		opts.OpenWriter = func() (report.RowWriter, error) {
			w, err := report.OpenCSV(cfg.OutputCSV, report.LayoutFor(variant).Header())
			if err != nil {
				return nil, err
			}
			csvOut = w
			return w, nil
		}
	}

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(dashboard.RunInfo{
			RootURL:    cfg.RootURL,
			Variant:    variant,
			NumWorkers: cfg.NumWorkers,
			Timeout:    cfg.Timeout,
			ConfigFile: cfg.ConfigFile,
		}, cancel)
		if err != nil {
			return err
		}
		dash.Start()
		defer dash.Stop()
	}
	opts.OnAggregator = func(agg *metrics.Aggregator) {
		env.exporter.Attach(agg)
		if dash != nil {
			dash.Attach(agg)
		}
	}

	start := time.Now()
	run, err := loadtest.New(opts).Start(ctx)
	if err != nil {
		return err
	}
	if csvOut != nil {
		defer csvOut.Close()
	}
	if dash != nil {
		dash.SetRunID(run.ID())
	}
	run.Wait()

	if dash != nil {
		// restore the terminal before printing the report
		dash.Stop()
	}
	output.PrintRunReport(stdout, run.Aggregator().Snapshot(), time.Since(start), noColor(stdout))
	return nil
}

func runSweep(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	env, err := newEnvironment(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	csvOut, err := report.OpenCSV(cfg.OutputCSV, report.LayoutCumulative.Header())
	if err != nil {
		return err
	}
	defer csvOut.Close()

	opts := baseOptions(cfg, env)
	opts.StartNumWorkers = cfg.StartNumWorkers
	opts.NumWorkersSkip = cfg.NumWorkersSkip
	opts.NumIterations = cfg.NumIterations
	opts.IterationLength = cfg.IterationLength
	opts.SummaryWriter = csvOut
	opts.OnAggregator = env.exporter.Attach

	results, err := loadtest.New(opts).Sweep(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		env.logger.WithField("completed", len(results)).Warn("sweep interrupted")
	}

	if cfg.JSONOutput {
		return output.PrintJSONSweepReport(stdout, results)
	}
	output.PrintSweepReport(stdout, results, noColor(stdout))
	return nil
}

func baseOptions(cfg *config.Config, env *environment) loadtest.Options {
	return loadtest.Options{
		RootURL:        cfg.RootURL,
		User:           cfg.User,
		Password:       cfg.Password,
		ReportInterval: cfg.ReportInterval,
		HTTP: httpclient.Options{
			Timeout: cfg.Timeout,
			H2C:     cfg.H2C,
		},
		Tracer:    env.tracing.Tracer(),
		Propagate: env.tracing.ShouldPropagate(),
		Logger:    env.logger,
	}
}

func noColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return !ok || !output.IsTerminal(f)
}
