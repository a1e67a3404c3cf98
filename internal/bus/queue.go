package bus

import (
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

// DefaultQueueSize is the receive queue capacity used when none is configured.
const DefaultQueueSize = 512

// Queue is a bounded FIFO between a backend receive loop and the session poller.
// Push never blocks; when the queue is full the new frame is dropped and counted.
type Queue struct {
	ch    chan can.Frame
	ready chan struct{}
	start time.Time
}

// NewQueue creates a queue holding up to size frames (DefaultQueueSize if size <= 0).
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:    make(chan can.Frame, size),
		ready: make(chan struct{}, 1),
		start: time.Now(),
	}
}

// Push enqueues a received frame. Frames without a timestamp are stamped with
// the milliseconds elapsed since the queue was created. It reports false on drop.
func (q *Queue) Push(fr can.Frame) bool {
	if fr.Timestamp == 0 {
		fr.Timestamp = uint32(time.Since(q.start).Milliseconds())
	}
	select {
	case q.ch <- fr:
	default:
		metrics.IncRxDrop()
		return false
	}
	metrics.SetRxQueueDepth(len(q.ch))
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Poll returns the oldest queued frame, if any.
func (q *Queue) Poll() (can.Frame, bool) {
	select {
	case fr := <-q.ch:
		metrics.SetRxQueueDepth(len(q.ch))
		return fr, true
	default:
		return can.Frame{}, false
	}
}

// Drain discards every queued frame and returns how many were dropped.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			metrics.SetRxQueueDepth(0)
			return n
		}
	}
}

// Notify returns a channel that receives after a Push. Wakeups may be spurious.
func (q *Queue) Notify() <-chan struct{} { return q.ready }

// Len returns the number of queued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
