// Package bus exposes the CAN hardware to the TCP session as a small polling contract.
package bus

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

var (
	// ErrInvalidFrame is returned by Transmit for frames longer than 8 bytes.
	ErrInvalidFrame = errors.New("bus: invalid frame")
	// ErrClosed is returned after the adapter has been closed.
	ErrClosed = errors.New("bus: closed")
)

// Adapter is the bus as seen by a client session.
// Implementations must be safe for concurrent Transmit and Poll calls.
type Adapter interface {
	// Transmit submits a frame for a single (non-periodic) transmission.
	Transmit(can.Frame) error
	// Poll returns the next received frame without blocking; ok is false when none is pending.
	Poll() (fr can.Frame, ok bool)
}

// Notifier is implemented by adapters that can signal that Poll may return a frame.
type Notifier interface {
	Notify() <-chan struct{}
}

// Drainer is implemented by adapters that can discard frames received while no
// client was listening.
type Drainer interface {
	Drain() int
}

// TxCounter is implemented by adapters whose transmit path keeps counters.
type TxCounter interface {
	TxStats() (transport.Stats, bool)
}

// Backend joins a transmit sink and a receive queue into an Adapter.
type Backend struct {
	tx transport.FrameSink
	rx *Queue
}

// NewBackend builds an Adapter writing to tx and polling rx.
func NewBackend(tx transport.FrameSink, rx *Queue) *Backend { return &Backend{tx: tx, rx: rx} }

// Transmit validates fr and hands it to the sink.
func (b *Backend) Transmit(fr can.Frame) error {
	if !fr.Valid() {
		return fmt.Errorf("%w: len %d", ErrInvalidFrame, fr.Len)
	}
	return b.tx.SendFrame(fr)
}

// Poll pops one frame from the receive queue.
func (b *Backend) Poll() (can.Frame, bool) { return b.rx.Poll() }

// Notify signals new frames in the receive queue.
func (b *Backend) Notify() <-chan struct{} { return b.rx.Notify() }

// Drain empties the receive queue and returns the number of frames discarded.
func (b *Backend) Drain() int { return b.rx.Drain() }

// TxStats returns the sink's counters when it keeps any (the async TX writers do).
func (b *Backend) TxStats() (transport.Stats, bool) {
	if c, ok := b.tx.(interface{ Stats() transport.Stats }); ok {
		return c.Stats(), true
	}
	return transport.Stats{}, false
}

var (
	_ Adapter   = (*Backend)(nil)
	_ Notifier  = (*Backend)(nil)
	_ Drainer   = (*Backend)(nil)
	_ TxCounter = (*Backend)(nil)
)
