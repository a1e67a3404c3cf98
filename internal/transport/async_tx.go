package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

// ErrAsyncTxClosed is returned by SendFrame after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// AsyncTx funnels frame writes for one device through a single goroutine.
// SendFrame never blocks: a full buffer triggers the OnDrop hook and its error
// is returned to the producer.
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	_ = a.SendFrame(frame)
//	a.Close()
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan can.Frame
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// Hooks customize AsyncTx behavior per backend.
type Hooks struct {
	// OnError is called when send returns a non-nil error (frame not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is returned
	// from SendFrame. If nil, the overflow is silent.
	OnDrop func() error
}

// Stats are cumulative AsyncTx counters.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// NewAsyncTx starts the worker with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop(ctx)
	return a
}

func (a *AsyncTx) loop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			a.deliver(fr)
		case <-ctx.Done():
			return
		}
	}
}

func (a *AsyncTx) deliver(fr can.Frame) {
	if err := a.send(fr); err != nil {
		a.failed.Add(1)
		if a.hooks.OnError != nil {
			a.hooks.OnError(err)
		}
		return
	}
	a.sent.Add(1)
	if a.hooks.OnAfter != nil {
		a.hooks.OnAfter()
	}
}

// SendFrame queues fr or returns the drop error if the buffer is full.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		a.dropped.Add(1)
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Stats returns a snapshot of the counters.
func (a *AsyncTx) Stats() Stats {
	return Stats{Sent: a.sent.Load(), Failed: a.failed.Load(), Dropped: a.dropped.Load()}
}

// Close stops the worker and waits for it to exit. Queued frames not yet sent are discarded.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
