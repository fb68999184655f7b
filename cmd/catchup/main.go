// Package main implements the catch-up cache node daemon. It runs one
// publication cache service per configured pattern, answering history
// fetches from catch-up subscribers over the bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/catchup/busclient"
	"github.com/c360/catchup/config"
	"github.com/c360/catchup/keys"
	"github.com/c360/catchup/metric"
	"github.com/c360/catchup/pubcache"
)

const (
	Version = "0.1.0"
	appName = "catchup-cache"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("cache node failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "catchup.yaml", "path to YAML configuration")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewRegistry()

	client, err := busclient.New(cfg.NATS.URL, busOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("bus close reported errors", "error", err)
		}
	}()

	services, err := buildServices(cfg, client, registry, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, svc := range services {
		svc := svc
		if err := svc.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return svc.Stop(stopCtx)
		})
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, registry, logger) })
	}

	logger.Info("cache node running",
		"node", cfg.Node,
		"version", Version,
		"caches", len(services),
		"metrics_addr", cfg.MetricsAddr)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("cache node stopped", "node", cfg.Node)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func busOptions(cfg *config.Config, logger *slog.Logger) []busclient.Option {
	name := cfg.NATS.Name
	if name == "" {
		name = cfg.Node
	}
	opts := []busclient.Option{
		busclient.WithName(name),
		busclient.WithLogger(logger),
	}
	if cfg.NATS.Timeout > 0 {
		opts = append(opts, busclient.WithTimeout(cfg.NATS.Timeout))
	}
	if cfg.NATS.DrainTimeout > 0 {
		opts = append(opts, busclient.WithDrainTimeout(cfg.NATS.DrainTimeout))
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, busclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, busclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, busclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, busclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, busclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}
	return opts
}

func buildServices(cfg *config.Config, client *busclient.Client, registry *metric.Registry, logger *slog.Logger) ([]*pubcache.Service, error) {
	services := make([]*pubcache.Service, 0, len(cfg.Caches))
	for _, cacheCfg := range cfg.Caches {
		opts := []pubcache.ServiceOption{
			pubcache.WithID(cacheCfg.ID),
			pubcache.WithPrefix(cfg.Prefix),
			pubcache.WithFetchSubject(cfg.FetchSubject),
			pubcache.WithLogger(logger),
			pubcache.WithMetrics(registry),
		}
		if cacheCfg.History > 0 {
			opts = append(opts, pubcache.WithHistory(cacheCfg.History))
		}

		svc, err := pubcache.NewService(client, keys.Pattern(cacheCfg.Pattern), opts...)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

func serveMetrics(ctx context.Context, addr string, registry *metric.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
