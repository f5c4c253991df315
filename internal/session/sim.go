package session

import (
	"context"
	"math/rand"
	"sync"
)

// simCaptureCap bounds simulated capture length so long listen windows
// at SDR sample rates stay cheap to analyze.
const simCaptureCap = 1 << 18

// SimChannel is a software stand-in for a radio: captures are seeded
// Gaussian noise, and in adaptive mode the channel echoes the last
// transmitted probe back into the capture, modelling a responder that
// mirrors whatever it hears.
type SimChannel struct {
	mu         sync.Mutex
	rng        *rand.Rand
	noisePower float64
	adaptive   bool
	gain       float64
	lastProbe  []int8
}

type SimOption func(*SimChannel)

// WithAdaptiveResponder makes the channel echo transmitted probes back
// at the given amplitude gain, so sessions against it decide H1.
func WithAdaptiveResponder(gain float64) SimOption {
	return func(s *SimChannel) {
		s.adaptive = true
		s.gain = gain
	}
}

// WithNoisePower sets the noise amplitude scale (default 0.05).
func WithNoisePower(p float64) SimOption {
	return func(s *SimChannel) { s.noisePower = p }
}

func NewSimChannel(seed int64, opts ...SimOption) *SimChannel {
	s := &SimChannel{
		rng:        rand.New(rand.NewSource(seed)),
		noisePower: 0.05,
		gain:       0.8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimChannel) Available() bool { return true }

type simHandle struct{}

func (simHandle) Stop(context.Context) error { return nil }

func (s *SimChannel) Transmit(ctx context.Context, signal []int8, repeat bool) (TransmitHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastProbe = append([]int8(nil), signal...)
	s.mu.Unlock()
	return simHandle{}, nil
}

func (s *SimChannel) Capture(ctx context.Context, duration, centerFreq float64, sampleRate, gain int) ([]int8, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(duration * float64(sampleRate))
	if n > simCaptureCap {
		n = simCaptureCap
	}
	if n < 1 {
		n = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]int8, 2*n)
	for i := range buf {
		buf[i] = quantizeSim(s.rng.NormFloat64() * s.noisePower)
	}
	if s.adaptive && len(s.lastProbe) > 0 {
		for i := range buf {
			echo := float64(s.lastProbe[i%len(s.lastProbe)]) / 127.0 * s.gain
			buf[i] = quantizeSim(float64(buf[i])/127.0 + echo)
		}
	}
	return buf, nil
}

func quantizeSim(v float64) int8 {
	q := v * 127
	if q > 127 {
		q = 127
	}
	if q < -127 {
		q = -127
	}
	return int8(q)
}
