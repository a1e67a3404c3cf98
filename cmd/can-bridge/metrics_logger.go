package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, ad bus.Adapter, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap(), ad)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot, ad bus.Adapter) {
	attrs := []any{
		"serial_rx", snap.SerialRx,
		"socketcan_rx", snap.SocketCANRx,
		"serial_tx", snap.SerialTx,
		"socketcan_tx", snap.SocketCANTx,
		"tcp_rx", snap.TCPRx,
		"tcp_tx", snap.TCPTx,
		"rx_drops", snap.RxDrops,
		"rx_depth", snap.RxDepth,
		"sessions", snap.Sessions,
		"active", snap.Active,
		"malformed", snap.Malformed,
		"errors", snap.Errors,
	}
	if tc, ok := ad.(bus.TxCounter); ok {
		if tx, ok := tc.TxStats(); ok {
			attrs = append(attrs, "tx_sent", tx.Sent, "tx_failed", tx.Failed, "tx_dropped", tx.Dropped)
		}
	}
	l.Info("metrics_snapshot", attrs...)
}

// logServerErrors reports errors published by the server until ctx ends.
func logServerErrors(ctx context.Context, errs <-chan error, l *slog.Logger) {
	for {
		select {
		case err := <-errs:
			l.Warn("server_error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}
