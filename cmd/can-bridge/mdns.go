package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_can-bridge._tcp"

// mdnsInstance returns the advertised instance name (default can-bridge-<hostname>).
func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("can-bridge-%s", host)
}

// mdnsTXT lists the TXT records clients use to pick a compatible bridge.
func mdnsTXT(cfg *appConfig) []string {
	return []string{
		"backend=" + cfg.backend,
		"frame=18",
		"version=" + version,
		"commit=" + commit,
	}
}

// listenPort extracts the port from a bound "host:port" address; 0 if it has none.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}

// startMDNS registers the service via mDNS and returns a cleanup function.
// It is a no-op when advertisement is disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	svc, err := zeroconf.Register(mdnsInstance(cfg), mdnsServiceType, "local.", port, mdnsTXT(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
