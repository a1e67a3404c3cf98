package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-can-bridge/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "can-bridge")
	logging.Set(l)
	return l
}
