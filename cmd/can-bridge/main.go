package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	os.Exit(run(cfg))
}

// run owns the process lifetime and returns the exit status.
func run(cfg *appConfig) int {
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	// The bus is opened exactly once, before anything listens.
	adapter, cleanup, err := initBackend(ctx, cfg, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "backend", cfg.backend, "error", err)
		return 1
	}
	defer func() {
		cancel()
		cleanup()
		wg.Wait()
	}()

	srv := server.NewServer(
		server.WithAdapter(adapter),
		server.WithListenAddr(cfg.listenAddr),
		server.WithPollInterval(cfg.pollInterval),
		server.WithLogger(l),
	)
	startMetricsLogger(ctx, cfg.logMetricsEvery, adapter, l, &wg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		logServerErrors(ctx, srv.Errors(), l)
	}()
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	wg.Add(1)
	go func() {
		defer wg.Done()
		advertise(ctx, cfg, srv, l)
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case err := <-serveErr:
		if err != nil {
			l.Error("tcp_server_error", "error", err)
			return 1
		}
		return 0
	}
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Warn("shutdown_incomplete", "error", err)
	}
	cancel()
	if err := <-serveErr; err != nil && !errors.Is(err, context.Canceled) {
		l.Error("tcp_server_error", "error", err)
		return 1
	}
	return 0
}

// advertise registers the mDNS service once the listener is bound.
func advertise(ctx context.Context, cfg *appConfig, srv *server.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	port := listenPort(srv.Addr())
	cleanupMDNS, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
	<-ctx.Done()
	cleanupMDNS()
}
