// Command can-bridge-client connects to a can-bridge daemon, optionally sends
// frames, and prints every frame the bridge forwards from the bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

type sendList []string

func (s *sendList) String() string     { return fmt.Sprint(*s) }
func (s *sendList) Set(v string) error { *s = append(*s, v); return nil }

func main() {
	addr := flag.String("addr", "127.0.0.1:8006", "Bridge address")
	dialTO := flag.Duration("dial-timeout", 3*time.Second, "Connect timeout")
	count := flag.Int("count", 0, "Exit after this many received frames (0 = run until interrupted)")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	var sends sendList
	flag.Var(&sends, "send", "Frame to send, e.g. 12345678#0102 (repeatable)")
	flag.Parse()

	l := logging.New("text", logging.ParseLevel(*logLevel), os.Stderr).With("app", "can-bridge-client")
	logging.Set(l)

	frames := make([]can.Frame, 0, len(sends))
	for _, s := range sends {
		fr, err := parseFrame(s)
		if err != nil {
			l.Error("bad_frame", "frame", s, "error", err)
			os.Exit(2)
		}
		frames = append(frames, fr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *addr, *dialTO, frames, *count, os.Stdout, l); err != nil {
		l.Error("client_error", "error", err)
		os.Exit(1)
	}
}

// run sends frames, then dumps received frames to out until count is reached,
// ctx ends, or the bridge closes the connection.
func run(ctx context.Context, addr string, dialTO time.Duration, frames []can.Frame, count int, out io.Writer, l *slog.Logger) error {
	d := net.Dialer{Timeout: dialTO}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	l.Info("connected", "addr", conn.RemoteAddr().String())
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for _, fr := range frames {
		msg := wire.EncodeUplink(fr)
		if _, err := conn.Write(msg[:]); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		l.Debug("frame_sent", "frame", formatFrame(fr))
	}

	for n := 0; count <= 0 || n < count; n++ {
		fr, err := wire.ReadDownlink(conn)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		fmt.Fprintf(out, "%10d  %s\n", fr.Timestamp, formatFrame(fr))
	}
	return nil
}
