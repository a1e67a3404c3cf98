package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-bridge/internal/bus"
)

// initBackend opens the configured CAN hardware, starts its RX loop and returns the
// adapter a session talks to plus a cleanup func. Any error means the bus is unusable.
func initBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (bus.Adapter, func(), error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, l, wg)
	case "loopback":
		lb := bus.NewLoopback(cfg.rxQueue)
		l.Info("loopback_open", "rx_queue", cfg.rxQueue)
		return lb, func() { _ = lb.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use socketcan|serial|loopback)", cfg.backend)
	}
}
