package bus

import (
	"sync"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

// Loopback is an in-memory Adapter: every transmitted frame is received back.
// Used for bench testing without hardware and in tests.
type Loopback struct {
	mu     sync.Mutex
	closed bool
	rx     *Queue
}

// NewLoopback creates a loopback adapter with a receive queue of the given size.
func NewLoopback(size int) *Loopback { return &Loopback{rx: NewQueue(size)} }

// Transmit echoes fr into the receive queue.
func (l *Loopback) Transmit(fr can.Frame) error {
	if !fr.Valid() {
		return ErrInvalidFrame
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	fr.Timestamp = 0
	l.rx.Push(fr)
	return nil
}

// Inject simulates a frame arriving from another node on the bus.
func (l *Loopback) Inject(fr can.Frame) bool { return l.rx.Push(fr) }

// Poll returns the next echoed or injected frame.
func (l *Loopback) Poll() (can.Frame, bool) { return l.rx.Poll() }

// Drain discards pending echoed or injected frames.
func (l *Loopback) Drain() int { return l.rx.Drain() }

// Notify signals new frames.
func (l *Loopback) Notify() <-chan struct{} { return l.rx.Notify() }

// Close makes further Transmit calls fail with ErrClosed.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
