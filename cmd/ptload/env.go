package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ptracker/ptload/internal/config"
	"github.com/ptracker/ptload/internal/logging"
	"github.com/ptracker/ptload/internal/metrics"
	"github.com/ptracker/ptload/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

// environment holds the process-wide services a command runs with.
type environment struct {
	logger   *logrus.Logger
	tracing  *tracing.Provider
	exporter *metrics.Exporter
	server   *http.Server
	// metricsAddr is the bound listener address, set when metrics are served.
	metricsAddr string
}

func newEnvironment(ctx context.Context, cfg *config.Config, logOut io.Writer) (*environment, error) {
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: logOut,
	})
	if err != nil {
		return nil, err
	}

	tp, err := tracing.Init(ctx, cfg.Tracing, cfg.RootURL)
	if err != nil {
		return nil, err
	}

	env := &environment{
		logger:   logger,
		tracing:  tp,
		exporter: metrics.NewExporter(),
	}
	if cfg.MetricsAddr != "" {
		if err := env.serveMetrics(cfg.MetricsAddr); err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}
	}
	return env, nil
}

// serveMetrics binds addr before returning so a taken port fails the command.
func (e *environment) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e.exporter, collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	e.metricsAddr = ln.Addr().String()
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	log := logging.Component(e.logger, "metrics")
	log.WithField("addr", ln.Addr().String()).Info("serving prometheus metrics")
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	return nil
}

func (e *environment) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil {
			e.logger.WithError(err).Warn("metrics server shutdown")
		}
	}
	if err := e.tracing.Shutdown(ctx); err != nil {
		e.logger.WithError(err).Warn("tracing shutdown")
	}
}
