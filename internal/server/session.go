package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/serial"
	"github.com/kstaniek/go-can-bridge/internal/socketcan"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

// State is the lifecycle stage of a client session.
type State int32

const (
	StateAccepted State = iota
	StateActive
	StateDraining
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateAccepted:
		return "accepted"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(st))
	}
}

// session bridges one accepted connection and the bus.
//
// The connection is split by role: the uplink goroutine only reads from it and
// the downlink loop only writes to it. Only the session closes it, and only
// after the uplink has returned.
type session struct {
	srv     *Server
	id      uint64
	conn    net.Conn
	adapter bus.Adapter
	logger  *slog.Logger

	state      atomic.Int32
	uplinkDone chan struct{}
	closed     chan struct{}
	abortOnce  sync.Once
	aborted    chan struct{}
}

func newSession(srv *Server, id uint64, conn net.Conn) *session {
	ss := &session{
		srv:        srv,
		id:         id,
		conn:       conn,
		adapter:    srv.adapter,
		logger:     srv.logger.With("session_id", id, "remote", conn.RemoteAddr().String()),
		uplinkDone: make(chan struct{}),
		closed:     make(chan struct{}),
		aborted:    make(chan struct{}),
	}
	ss.state.Store(int32(StateAccepted))
	return ss
}

func (ss *session) State() State { return State(ss.state.Load()) }

func (ss *session) setState(st State) {
	prev := State(ss.state.Swap(int32(st)))
	ss.logger.Debug("session_state", "from", prev.String(), "to", st.String())
}

// abort asks a running session to drain (used by Shutdown).
func (ss *session) abort() { ss.abortOnce.Do(func() { close(ss.aborted) }) }

// run drives the session from Active to Closed. It returns once the uplink has
// stopped and the connection is closed.
func (ss *session) run(ctx context.Context) {
	defer close(ss.closed)
	metrics.SessionStarted()
	defer metrics.SessionEnded()
	ss.logger.Info("client_connected")
	if d, ok := ss.adapter.(bus.Drainer); ok {
		if n := d.Drain(); n > 0 {
			ss.logger.Info("rx_stale_dropped", "frames", n)
		}
	}

	ss.setState(StateActive)
	go ss.uplink(ss.conn)
	reason := ss.downlink(ctx, ss.conn)

	ss.setState(StateDraining)
	// Wake a reader still blocked on a live peer without closing the socket under it.
	_ = ss.conn.SetReadDeadline(time.Now())
	<-ss.uplinkDone
	_ = ss.conn.Close()
	ss.setState(StateClosed)
	ss.logger.Info("client_disconnected", "reason", reason)
}

// uplink reads client messages and submits them to the bus until the peer
// disconnects or sends something malformed. It never closes the connection.
func (ss *session) uplink(r io.Reader) {
	defer close(ss.uplinkDone)
	for {
		fr, err := wire.ReadUplink(r)
		if err != nil {
			ss.uplinkEnded(err)
			return
		}
		ss.srv.totalUplink.Add(1)
		metrics.IncTCPRx()
		if err := ss.adapter.Transmit(fr); err != nil {
			ss.transmitFailed(fr, err)
		}
	}
}

func (ss *session) uplinkEnded(err error) {
	switch {
	case errors.Is(err, wire.ErrUnsupportedLength), errors.Is(err, wire.ErrInvalidDataLength):
		ss.srv.totalProtocolErrors.Add(1)
		metrics.IncMalformed()
		ss.logger.Warn("uplink_protocol_error", "error", err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		ss.logger.Debug("uplink_peer_closed")
	case isTimeout(err):
		ss.logger.Debug("uplink_stopped")
	default:
		wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
		metrics.IncError(mapErrToMetric(wrap))
		ss.srv.setError(wrap)
		ss.logger.Debug("uplink_read_error", "error", wrap)
	}
}

func (ss *session) transmitFailed(fr can.Frame, err error) {
	if errors.Is(err, serial.ErrTxOverflow) || errors.Is(err, socketcan.ErrTxOverflow) {
		ss.srv.totalBusOverflow.Add(1)
		ss.logger.Debug("bus_overflow_drop", "can_id", fmt.Sprintf("0x%X", fr.CANID), "len", fr.Len)
		return
	}
	wrap := fmt.Errorf("%w: %v", ErrBusTx, err)
	metrics.IncError(mapErrToMetric(wrap))
	ss.srv.setError(wrap)
	ss.srv.totalBusErrors.Add(1)
	ss.logger.Error("bus_tx_error", "error", wrap, "can_id", fmt.Sprintf("0x%X", fr.CANID))
}

// downlink forwards polled bus frames to the client until a write fails or the
// session is cancelled. It returns the reason it stopped.
func (ss *session) downlink(ctx context.Context, w io.Writer) error {
	var notify <-chan struct{}
	if n, ok := ss.adapter.(bus.Notifier); ok {
		notify = n.Notify()
	}
	wait := time.NewTimer(ss.srv.pollInterval)
	defer wait.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrContext, ctx.Err())
		case <-ss.aborted:
			return ErrContext
		default:
		}
		if fr, ok := ss.adapter.Poll(); ok {
			if err := wire.WriteDownlink(w, fr); err != nil {
				return fmt.Errorf("%w: %v", ErrConnWrite, err)
			}
			ss.srv.totalDownlink.Add(1)
			metrics.IncTCPTx()
			continue
		}
		wait.Reset(ss.srv.pollInterval)
		select {
		case <-ctx.Done():
		case <-ss.aborted:
		case <-notify:
		case <-wait.C:
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
