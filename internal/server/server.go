package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

// DefaultListenAddr is the TCP address clients expect the bridge on.
const DefaultListenAddr = ":8006"

const defaultPollInterval = time.Millisecond

// Server owns the TCP listener and runs one client session at a time.
type Server struct {
	mu      sync.RWMutex
	addr    string
	adapter bus.Adapter

	pollInterval time.Duration
	readyOnce    sync.Once
	readyCh      chan struct{}
	lastErrMu    sync.Mutex
	lastErr      error
	errCh        chan error
	listener     net.Listener
	current      atomic.Pointer[session]
	shutdown     atomic.Bool
	logger       *slog.Logger
	nextConnID   uint64

	totalAccepted       atomic.Uint64
	totalClosed         atomic.Uint64
	totalUplink         atomic.Uint64
	totalDownlink       atomic.Uint64
	totalProtocolErrors atomic.Uint64
	totalBusOverflow    atomic.Uint64
	totalBusErrors      atomic.Uint64
}

// Stats are cumulative counters across all sessions.
type Stats struct {
	Accepted       uint64
	Closed         uint64
	UplinkFrames   uint64
	DownlinkFrames uint64
	ProtocolErrors uint64
	BusOverflow    uint64
	BusErrors      uint64
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr:         DefaultListenAddr,
		pollInterval: defaultPollInterval,
		readyCh:      make(chan struct{}),
		errCh:        make(chan error, 1),
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func WithListenAddr(a string) ServerOption   { return func(s *Server) { s.addr = a } }
func WithAdapter(a bus.Adapter) ServerOption { return func(s *Server) { s.adapter = a } }
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollInterval sets how long the downlink waits after an empty poll.
func WithPollInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// State reports the state of the live session, or StateClosed when none is running.
func (s *Server) State() State {
	if ss := s.current.Load(); ss != nil {
		return ss.State()
	}
	return StateClosed
}

// Stats returns a snapshot of the session counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:       s.totalAccepted.Load(),
		Closed:         s.totalClosed.Load(),
		UplinkFrames:   s.totalUplink.Load(),
		DownlinkFrames: s.totalDownlink.Load(),
		ProtocolErrors: s.totalProtocolErrors.Load(),
		BusOverflow:    s.totalBusOverflow.Load(),
		BusErrors:      s.totalBusErrors.Load(),
	}
}

// Serve binds the listener and bridges accepted clients one at a time until ctx is
// cancelled. Bind and accept failures are fatal and returned wrapped in ErrBind / ErrAccept.
// A client connecting while a session is live waits in the accept backlog.
func (s *Server) Serve(ctx context.Context) error {
	if s.adapter == nil {
		return fmt.Errorf("%w: no bus adapter", ErrBind)
	}
	addr := s.Addr()
	if addr == "" {
		addr = DefaultListenAddr
	}
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrBind, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
	}()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single client and runs its session to completion.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil || s.shutdown.Load() {
			return context.Canceled
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	ss := newSession(s, connID, conn)
	s.current.Store(ss)
	// Shutdown may have looked for a live session before the Store above.
	if s.shutdown.Load() {
		ss.abort()
	}
	ss.run(ctx)
	s.current.CompareAndSwap(ss, nil)
	s.totalClosed.Add(1)
	return nil
}

// Shutdown closes the listener and the live client connection, then waits for
// the session to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if ss := s.current.Load(); ss != nil {
		ss.abort()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
		case <-ss.closed:
		}
	}
	st := s.Stats()
	attrs := []any{
		"accepted", st.Accepted,
		"closed", st.Closed,
		"uplink_frames", st.UplinkFrames,
		"downlink_frames", st.DownlinkFrames,
		"protocol_errors", st.ProtocolErrors,
		"bus_overflow", st.BusOverflow,
		"bus_errors", st.BusErrors,
	}
	if tc, ok := s.adapter.(bus.TxCounter); ok {
		if tx, ok := tc.TxStats(); ok {
			attrs = append(attrs, "tx_sent", tx.Sent, "tx_failed", tx.Failed, "tx_dropped", tx.Dropped)
		}
	}
	s.logger.Info("shutdown_summary", attrs...)
	return nil
}
