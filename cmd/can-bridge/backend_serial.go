package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/serial"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// initSerialBackend opens the CAN-UART adapter and launches the RX loop feeding the bus queue.
func initSerialBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (bus.Adapter, func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
	w := serial.NewTXWriter(ctx, sp, txQueueSize)
	q := bus.NewQueue(cfg.rxQueue)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		serialRXLoop(ctx, sp, q, l)
	}()
	return bus.NewBackend(w, q), func() { _ = sp.Close(); w.Close() }, nil
}

func serialRXLoop(ctx context.Context, sp serial.Port, q *bus.Queue, l *slog.Logger) {
	buf := make([]byte, serialReadBufSize)
	var dec serial.Decoder
	push := func(fr can.Frame) { q.Push(fr) }
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := sp.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n], push)
			backoff = rxBackoffMin
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		var perr *os.PathError
		if errors.As(err, &perr) {
			l.Error("serial_device_lost", "error", err)
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			continue // read timeout with no data
		}
		metrics.IncError(metrics.ErrSerialRead)
		l.Warn("serial_read_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff = nextBackoff(backoff)
	}
}
