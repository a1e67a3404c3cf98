// Package transport holds the plumbing shared by the CAN device backends.
package transport

import "github.com/kstaniek/go-can-bridge/internal/can"

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// SinkFunc adapts a plain function to FrameSink.
type SinkFunc func(can.Frame) error

// SendFrame calls f.
func (f SinkFunc) SendFrame(fr can.Frame) error { return f(fr) }

var _ FrameSink = SinkFunc(nil)
