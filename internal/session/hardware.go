package session

import (
	"context"
	"errors"
)

// ErrHardwareUnavailable is returned when a channel's transmit or
// receive side cannot be used at all; the session aborts rather than
// running a meaningless experiment.
var ErrHardwareUnavailable = errors.New("session: hardware unavailable")

// TransmitHandle represents an in-flight transmission.
type TransmitHandle interface {
	// Stop ends the transmission. Stopping an already-finished
	// transmission is a no-op.
	Stop(ctx context.Context) error
}

// Transmitter puts a rendered probe on the air. Implementations wrap a
// physical radio or a simulation.
type Transmitter interface {
	// Transmit starts sending the interleaved IQ signal, repeating it
	// until stopped when repeat is true.
	Transmit(ctx context.Context, signal []int8, repeat bool) (TransmitHandle, error)
	Available() bool
}

// Receiver captures raw IQ from the channel.
type Receiver interface {
	// Capture records for the given duration at the tuned center
	// frequency and returns interleaved int8 IQ.
	Capture(ctx context.Context, duration, centerFreq float64, sampleRate, gain int) ([]int8, error)
	Available() bool
}

// Channel is a transmit/receive pair over the same medium.
type Channel interface {
	Transmitter
	Receiver
}
