package server

import (
	"errors"

	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrBind      = errors.New("bind")
	ErrAccept    = errors.New("accept")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrBusTx     = errors.New("bus_tx")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrBusTx):
		return metrics.ErrBusTx
	case errors.Is(err, ErrBind):
		return metrics.ErrListen
	case errors.Is(err, ErrAccept):
		return metrics.ErrAccept
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
