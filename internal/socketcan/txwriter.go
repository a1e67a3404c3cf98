package socketcan

import (
	"context"
	"errors"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

var ErrTxOverflow = errors.New("socketcan tx overflow")

// Dev is the minimal interface needed by the backend and TXWriter.
// Implemented by *Device in production and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

var _ Dev = (*Device)(nil)

// TXWriter funnels all SocketCAN writes through a single goroutine.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a SocketCAN TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, dev Dev, buf int) *TXWriter {
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			logging.L().Warn("socketcan_write_error", "error", err)
		},
		OnAfter: metrics.IncSocketCANTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, dev.WriteFrame, hooks)}
}

// SendFrame queues a frame for asynchronous device write (ErrTxOverflow if the buffer is full).
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Stats returns transmit counters.
func (w *TXWriter) Stats() transport.Stats { return w.base.Stats() }

// Close stops the writer and waits for the worker goroutine to finish.
func (w *TXWriter) Close() { w.base.Close() }
