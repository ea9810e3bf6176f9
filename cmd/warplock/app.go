package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-warplock/v1/lock"
	"github.com/mirkobrombin/go-warplock/v1/metrics"
	"github.com/mirkobrombin/go-warplock/v1/presets"
	"github.com/mirkobrombin/go-warplock/v1/syncbus"
)

const (
	shutdownTimeout     = 5 * time.Second
	busFailureThreshold = 3
	busCooldown         = 10 * time.Second
)

// app is what every command runs against.
type app struct {
	cfg     config
	logger  *slog.Logger
	manager *lock.Manager
	closers []func(context.Context) error
}

func newApp() (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return buildApp(cfg)
}

func buildApp(cfg config) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	opts := []lock.ManagerOption{
		lock.WithLogger(a.logger),
		lock.WithNamespace(cfg.Namespace),
		lock.WithDefaults(cfg.lockOptions()...),
	}

	if cfg.MetricsAddr != "" {
		reg := metrics.NewRegistry()
		opts = append(opts, lock.WithMetrics(reg))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("warplock: metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		a.closers = append(a.closers, srv.Shutdown)
	}

	if cfg.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		opts = append(opts, lock.WithTracing())
		a.closers = append(a.closers, tp.Shutdown)
	}

	if cfg.Backend == "memory" {
		a.manager = presets.NewInMemoryStandalone(opts...)
		return a, nil
	}

	if cfg.Bus == "nats" {
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			conn.Close()
			return nil
		})
		bus := syncbus.NewNATSBus(conn)
		opts = append(opts, lock.WithBus(syncbus.NewCircuitBreaker(bus, busFailureThreshold, busCooldown)))
	}

	m, closeRedis, err := presets.NewRedis(presets.RedisOptions{
		URL:        cfg.RedisURL,
		KeyPrefix:  cfg.KeyPrefix,
		DisableBus: cfg.Bus != "redis",
	}, opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeRedis() })
	a.manager = m
	return a, nil
}

// Close releases everything buildApp opened, newest first.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Debug("warplock: shutdown", "error", err)
		}
	}
	a.closers = nil
}
