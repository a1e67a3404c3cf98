package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// initSocketCANBackend binds the raw CAN socket and launches the RX loop feeding the bus queue.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (bus.Adapter, func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf)
	if err != nil {
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)
	q := bus.NewQueue(cfg.rxQueue)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			metrics.IncSocketCANRx()
			q.Push(fr)
			backoff = rxBackoffMin
		}
	}()
	return bus.NewBackend(tw, q), func() { _ = dev.Close(); tw.Close() }, nil
}
