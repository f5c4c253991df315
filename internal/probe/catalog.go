package probe

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a probe's kind has no generator. This
// indicates a programming error, not a recoverable condition.
var ErrUnknownKind = errors.New("unknown probe kind")

type generator func(lib *Library, duration float64, params Params) Signal

// generators is the closed kind-to-renderer mapping. Adding a kind means
// adding an entry here and to StandardLibrary.
var generators = map[Kind]generator{
	KindPulsedCarrier: renderPulsedCarrier,
	KindLowFreqAM:     renderLowFreqAM,
	KindLinearSweep:   renderSweep,
	KindPrimeSequence: renderPrimeSequence,
	KindFibonacci:     renderFibonacci,
	KindGoldenRatio:   renderGoldenRatio,
	KindChirpUp:       renderSweep,
	KindChirpDown:     renderSweep,
	KindSilence:       renderSilence,
}

// Library renders probes to baseband IQ at a fixed sample rate.
type Library struct {
	sampleRate int
	// seed is reserved for probe kinds with randomized content; every
	// standard kind renders deterministically regardless of it.
	seed int64
}

func NewLibrary(sampleRate int, seed int64) *Library {
	return &Library{sampleRate: sampleRate, seed: seed}
}

func (l *Library) SampleRate() int {
	return l.sampleRate
}

// Render produces interleaved int8 IQ samples for a probe. It is pure:
// the same probe, duration and sample rate always yield the same bytes.
func (l *Library) Render(p Probe, duration float64) (Signal, error) {
	gen, ok := generators[p.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	return gen(l, duration, p.Params), nil
}

// StandardLibrary returns the fixed probe set in its canonical order.
// KL scores reflect expected H0/H1 discrimination; silence is the
// experimental control and carries the library minimum.
func StandardLibrary() []Probe {
	return []Probe{
		{
			Kind:        KindPulsedCarrier,
			Params:      Params{Pulsed: true, DutyCycle: 0.5},
			Description: "Pulsed carrier gated at prime-second offsets",
			KLScore:     2.5,
		},
		{
			Kind:        KindLowFreqAM,
			Params:      Params{ModeWeights: map[int]float64{1: 1.0, 2: 0.7, 3: 0.5}},
			Description: "AM envelope from Schumann resonance modes (7.83 Hz fundamental)",
			KLScore:     3.0,
		},
		{
			Kind:        KindLinearSweep,
			Params:      Params{FStart: 1000, FEnd: 10000},
			Description: "Linear frequency sweep 1-10 kHz baseband",
			KLScore:     2.0,
		},
		{
			Kind:        KindPrimeSequence,
			Params:      Params{Primes: primeTable[:10]},
			Description: "Prime number pulse intervals (2, 3, 5, 7...)",
			KLScore:     2.8,
		},
		{
			Kind:        KindFibonacci,
			Params:      Params{FibLength: 10},
			Description: "Fibonacci sequence pulse intervals",
			KLScore:     2.6,
		},
		{
			Kind:        KindGoldenRatio,
			Params:      Params{PhiTones: 5},
			Description: "Golden ratio multitone (phi^n harmonics)",
			KLScore:     2.4,
		},
		{
			Kind:        KindChirpUp,
			Params:      Params{FStart: 500, FEnd: 5000},
			Description: "Upward chirp 500 Hz to 5 kHz",
			KLScore:     1.8,
		},
		{
			Kind:        KindChirpDown,
			Params:      Params{FStart: 5000, FEnd: 500},
			Description: "Downward chirp 5 kHz to 500 Hz",
			KLScore:     1.8,
		},
		{
			Kind:        KindSilence,
			Params:      Params{},
			Description: "Silent probe (control)",
			KLScore:     0.1,
		},
	}
}

func renderPulsedCarrier(l *Library, duration float64, params Params) Signal {
	var gate []float64
	if params.Pulsed {
		gate = primeOffsetGate(duration, l.sampleRate)
	} else {
		gate = squareGate(duration, params.DutyCycle, l.sampleRate)
	}
	return toIQ(gate, zeros(len(gate)))
}

func renderLowFreqAM(l *Library, duration float64, params Params) Signal {
	weights := params.ModeWeights
	if len(weights) == 0 {
		weights = map[int]float64{1: 1.0, 2: 0.7, 3: 0.5, 4: 0.3, 5: 0.2}
	}
	env := modeEnvelope(duration, l.sampleRate, weights)
	return toIQ(env, zeros(len(env)))
}

func renderSweep(l *Library, duration float64, params Params) Signal {
	sweep := chirp(params.FStart, params.FEnd, duration, l.sampleRate)
	return toIQ(sweep, zeros(len(sweep)))
}

func renderPrimeSequence(l *Library, duration float64, params Params) Signal {
	primes := params.Primes
	if len(primes) == 0 {
		primes = primeTable
	}
	intervals := make([]float64, len(primes))
	for i, p := range primes {
		intervals[i] = float64(p)
	}
	gate := intervalGate(duration, l.sampleRate, intervals, 0.1)
	return toIQ(gate, zeros(len(gate)))
}

func renderFibonacci(l *Library, duration float64, params Params) Signal {
	length := params.FibLength
	if length < 2 {
		length = 12
	}
	fib := make([]float64, length)
	fib[0], fib[1] = 1, 1
	total := 2.0
	for i := 2; i < length; i++ {
		fib[i] = fib[i-1] + fib[i-2]
		total += fib[i]
	}
	// Scale the whole sequence to fit the requested duration.
	intervals := make([]float64, length)
	for i, f := range fib {
		intervals[i] = f / total * duration
	}
	gate := intervalGate(duration, l.sampleRate, intervals, 0.5)
	return toIQ(gate, zeros(len(gate)))
}

func renderGoldenRatio(l *Library, duration float64, params Params) Signal {
	tones := params.PhiTones
	if tones < 1 {
		tones = 5
	}
	sig := goldenMultitone(duration, l.sampleRate, tones)
	return toIQ(sig, zeros(len(sig)))
}

func renderSilence(l *Library, duration float64, _ Params) Signal {
	n := sampleCount(duration, l.sampleRate)
	return toIQ(zeros(n), zeros(n))
}
