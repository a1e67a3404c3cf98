package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

// fakeAdapter records transmitted frames and serves polled frames from rx.
type fakeAdapter struct {
	mu     sync.Mutex
	sent   []can.Frame
	sentCh chan can.Frame
	rx     chan can.Frame
	txErr  error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sentCh: make(chan can.Frame, 256), rx: make(chan can.Frame, 256)}
}

func (a *fakeAdapter) Transmit(fr can.Frame) error {
	a.mu.Lock()
	err := a.txErr
	if err == nil {
		a.sent = append(a.sent, fr)
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case a.sentCh <- fr:
	default:
	}
	return nil
}

func (a *fakeAdapter) Poll() (can.Frame, bool) {
	select {
	case fr := <-a.rx:
		return fr, true
	default:
		return can.Frame{}, false
	}
}

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

var errFakeBus = errors.New("fake bus failure")

// startServer runs a server on an ephemeral loopback port.
func startServer(t *testing.T, ad *fakeAdapter) (*Server, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	srv := NewServer(
		WithAdapter(ad),
		WithListenAddr("127.0.0.1:0"),
		WithLogger(logging.Discard()),
	)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("serve returned early: %v", err)
	case <-time.After(time.Second):
		cancel()
		t.Fatalf("server did not signal readiness")
	}
	t.Cleanup(cancel)
	return srv, done, cancel
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sendFrame(t *testing.T, c net.Conn, fr can.Frame) {
	t.Helper()
	msg := wire.EncodeUplink(fr)
	if _, err := c.Write(msg[:]); err != nil {
		t.Fatalf("write uplink: %v", err)
	}
}

func waitSent(t *testing.T, ad *fakeAdapter, timeout time.Duration) can.Frame {
	t.Helper()
	select {
	case fr := <-ad.sentCh:
		return fr
	case <-time.After(timeout):
		t.Fatalf("no frame transmitted within %v", timeout)
		return can.Frame{}
	}
}

func readDownlink(t *testing.T, c net.Conn) []byte {
	t.Helper()
	buf := make([]byte, wire.MessageSize)
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	n := 0
	for n < len(buf) {
		m, err := c.Read(buf[n:])
		if err != nil {
			t.Fatalf("read downlink after %d bytes: %v", n, err)
		}
		n += m
	}
	return buf
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// pumpUntilClosed keeps feeding downlink frames so writes hit the dead peer,
// until the server reports n closed sessions.
func pumpUntilClosed(t *testing.T, srv *Server, ad *fakeAdapter, n uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Stats().Closed >= n {
			return
		}
		select {
		case ad.rx <- can.Frame{CANID: 0x7FF}:
		default:
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session did not close (closed=%d want %d)", srv.Stats().Closed, n)
}
