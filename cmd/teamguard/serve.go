package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/MrEthical07/teamguard/internal/audit/kafkasink"
	"github.com/MrEthical07/teamguard/internal/httpapi"
	"github.com/MrEthical07/teamguard/internal/notify"
	"github.com/MrEthical07/teamguard/internal/telemetry"
	otelexport "github.com/MrEthical07/teamguard/metrics/export/otel"
	promexport "github.com/MrEthical07/teamguard/metrics/export/prometheus"
)

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev := c.Bool(flagDev)
	rt, err := openRuntime(c, dev)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	providers, err := telemetry.NewProviders(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.Insecure)
	if err != nil {
		return errors.Wrap(err, "error configuring telemetry")
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	builder := rt.builder().WithTracerProvider(providers.TracerProvider)
	if sink := kafkasink.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, logger); sink != nil {
		builder = builder.WithAuditSinks(sink)
		// Registered before the engine so the dispatcher drains into it first.
		rt.closers = append(rt.closers, func() { _ = sink.Close() })
	}
	engine, err := builder.Build()
	if err != nil {
		return errors.Wrap(err, "error building engine")
	}
	rt.closers = append(rt.closers, engine.Close)

	for _, finding := range engine.SecurityReport().Findings {
		logger.Warn("security posture", zap.String("finding", finding))
	}

	notifier, err := resetNotifier(rt, dev)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(engine),
	)
	httpMetrics, err := httpapi.NewHTTPMetrics(reg)
	if err != nil {
		return errors.Wrap(err, "error registering http metrics")
	}
	otelMetrics, err := otelexport.NewExporter(providers.MeterProvider.Meter("github.com/MrEthical07/teamguard"), engine)
	if err != nil {
		return errors.Wrap(err, "error registering otel metrics")
	}
	defer otelMetrics.Close()

	router := httpapi.New(engine, notifier, httpMetrics, logger).Routes()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := engine.RunSweeper(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweeper stopped", zap.Error(err))
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.Bool("dev", dev))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

func resetNotifier(rt *runtime, dev bool) (httpapi.ResetNotifier, error) {
	cfg := rt.cfg
	switch {
	case len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.ResetTopic != "":
		n, err := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.ResetTopic, rt.engineCfg.PasswordReset.TokenTTL)
		if err != nil {
			return nil, errors.Wrap(err, "error configuring reset notifier")
		}
		rt.closers = append(rt.closers, func() { _ = n.Close() })
		return n, nil
	case dev:
		return notify.LogNotifier{Logger: rt.logger, BaseURL: cfg.App.BaseURL}, nil
	default:
		rt.logger.Warn("no reset notifier configured; reset tokens will not be delivered")
		return nil, nil
	}
}
