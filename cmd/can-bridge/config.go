package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/bus"
	"github.com/kstaniek/go-can-bridge/internal/server"
)

type appConfig struct {
	listenAddr      string
	backend         string
	canIf           string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	pollInterval    time.Duration
	rxQueue         int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		listenAddr:   server.DefaultListenAddr,
		backend:      "socketcan",
		canIf:        "can0",
		serialDev:    "/dev/ttyUSB0",
		baud:         115200,
		serialReadTO: 50 * time.Millisecond,
		pollInterval: time.Millisecond,
		rxQueue:      bus.DefaultQueueSize,
		logFormat:    "text",
		logLevel:     "info",
	}
}

func parseFlags() (*appConfig, bool) {
	return parseArgs(flag.CommandLine, os.Args[1:])
}

// parseArgs fills the config from args, then from CAN_BRIDGE_* variables for
// every flag not given explicitly. A nil config means the caller should exit.
func parseArgs(fs *flag.FlagSet, args []string) (*appConfig, bool) {
	cfg := defaultConfig()
	fs.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "TCP listen address")
	fs.StringVar(&cfg.backend, "backend", cfg.backend, "CAN backend: socketcan|serial|loopback")
	fs.StringVar(&cfg.canIf, "can-if", cfg.canIf, "SocketCAN interface (when -backend=socketcan)")
	fs.StringVar(&cfg.serialDev, "serial", cfg.serialDev, "Serial device path (when -backend=serial)")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial read timeout")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", cfg.pollInterval, "Downlink wait after an empty bus poll")
	fs.IntVar(&cfg.rxQueue, "rx-queue", cfg.rxQueue, "Bus receive queue capacity (frames)")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-bridge-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false
	}

	// Flags given explicitly take precedence over env.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Fprintf(os.Stderr, "environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate checks values and ranges. It does not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan":
		if c.canIf == "" {
			return errors.New("can-if must not be empty")
		}
	case "serial":
		if c.serialDev == "" {
			return errors.New("serial must not be empty")
		}
	case "loopback":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.listenAddr == "" {
		return errors.New("listen must not be empty")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.pollInterval <= 0 {
		return errors.New("poll-interval must be > 0")
	}
	if c.rxQueue <= 0 {
		return fmt.Errorf("rx-queue must be > 0 (got %d)", c.rxQueue)
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

// envOverrides applies CAN_BRIDGE_* variables to fields whose flag was not set.
// Empty values are ignored. The first parse error is kept and returned.
type envOverrides struct {
	set      map[string]struct{}
	firstErr error
}

func (e *envOverrides) lookup(flagName, key string) (string, bool) {
	if _, ok := e.set[flagName]; ok {
		return "", false
	}
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envOverrides) fail(key string, err error) {
	if e.firstErr == nil {
		e.firstErr = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envOverrides) str(flagName, key string, dst *string) {
	if v, ok := e.lookup(flagName, key); ok {
		*dst = v
	}
}

func (e *envOverrides) positiveInt(flagName, key string, dst *int) {
	v, ok := e.lookup(flagName, key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	if n <= 0 {
		e.fail(key, fmt.Errorf("%d is not positive", n))
		return
	}
	*dst = n
}

func (e *envOverrides) duration(flagName, key string, dst *time.Duration, allowZero bool) {
	v, ok := e.lookup(flagName, key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	if d < 0 || (d == 0 && !allowZero) {
		e.fail(key, fmt.Errorf("%v out of range", d))
		return
	}
	*dst = d
}

func (e *envOverrides) boolean(flagName, key string, dst *bool) {
	v, ok := e.lookup(flagName, key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		e.fail(key, fmt.Errorf("%q is not a boolean", v))
	}
}

func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	e := &envOverrides{set: set}
	e.str("listen", "CAN_BRIDGE_LISTEN", &c.listenAddr)
	e.str("backend", "CAN_BRIDGE_BACKEND", &c.backend)
	e.str("can-if", "CAN_BRIDGE_IF", &c.canIf)
	e.str("serial", "CAN_BRIDGE_SERIAL", &c.serialDev)
	e.positiveInt("baud", "CAN_BRIDGE_BAUD", &c.baud)
	e.duration("serial-read-timeout", "CAN_BRIDGE_SERIAL_READ_TIMEOUT", &c.serialReadTO, false)
	e.duration("poll-interval", "CAN_BRIDGE_POLL_INTERVAL", &c.pollInterval, false)
	e.positiveInt("rx-queue", "CAN_BRIDGE_RX_QUEUE", &c.rxQueue)
	e.str("log-format", "CAN_BRIDGE_LOG_FORMAT", &c.logFormat)
	e.str("log-level", "CAN_BRIDGE_LOG_LEVEL", &c.logLevel)
	// An empty CAN_BRIDGE_METRICS is meaningful (disable), so it bypasses lookup.
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := os.LookupEnv("CAN_BRIDGE_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	e.duration("log-metrics-interval", "CAN_BRIDGE_LOG_METRICS_INTERVAL", &c.logMetricsEvery, true)
	e.boolean("mdns-enable", "CAN_BRIDGE_MDNS_ENABLE", &c.mdnsEnable)
	e.str("mdns-name", "CAN_BRIDGE_MDNS_NAME", &c.mdnsName)
	return e.firstErr
}
