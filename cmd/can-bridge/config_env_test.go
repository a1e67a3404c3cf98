package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := defaultConfig()
	t.Setenv("CAN_BRIDGE_BAUD", "230400")
	t.Setenv("CAN_BRIDGE_MDNS_ENABLE", "true")
	t.Setenv("CAN_BRIDGE_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("CAN_BRIDGE_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("CAN_BRIDGE_BACKEND", "serial")
	t.Setenv("CAN_BRIDGE_POLL_INTERVAL", "2ms")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.backend != "serial" || base.pollInterval != 2*time.Millisecond {
		t.Fatalf("unexpected backend/poll %s %v", base.backend, base.pollInterval)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	t.Setenv("CAN_BRIDGE_BAUD", "230400")
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_EmptyMetricsDisables(t *testing.T) {
	base := &appConfig{metricsAddr: ":9100"}
	t.Setenv("CAN_BRIDGE_METRICS", "")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.metricsAddr != "" {
		t.Fatalf("expected metrics disabled, got %q", base.metricsAddr)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	tests := map[string]string{
		"CAN_BRIDGE_RX_QUEUE":      "notint",
		"CAN_BRIDGE_BAUD":          "-5",
		"CAN_BRIDGE_POLL_INTERVAL": "0s",
		"CAN_BRIDGE_MDNS_ENABLE":   "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if err := applyEnvOverrides(defaultConfig(), map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}
