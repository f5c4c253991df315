package probe

import "fmt"

// Kind identifies a waveform family in the catalog. The set is closed:
// rendering an unlisted kind is an error, never a silent skip.
type Kind string

const (
	KindPulsedCarrier Kind = "pulsed_carrier"
	KindLowFreqAM     Kind = "lowfreq_am"
	KindLinearSweep   Kind = "linear_sweep"
	KindPrimeSequence Kind = "prime_sequence"
	KindFibonacci     Kind = "fibonacci_sequence"
	KindGoldenRatio   Kind = "golden_ratio"
	KindChirpUp       Kind = "chirp_up"
	KindChirpDown     Kind = "chirp_down"
	KindSilence       Kind = "silence"
)

// Params carries the per-kind generation parameters. Only the fields
// relevant to a probe's kind are consulted; the rest stay zero.
type Params struct {
	// Pulsed selects prime-offset gating for pulsed_carrier; when false
	// the gate is a duty-cycle square wave with a one second period.
	Pulsed    bool
	DutyCycle float64

	// ModeWeights maps resonance mode index to envelope weight (lowfreq_am).
	ModeWeights map[int]float64

	// FStart/FEnd bound the instantaneous frequency for sweeps and chirps.
	FStart float64
	FEnd   float64

	// Primes are the pulse intervals in seconds (prime_sequence).
	Primes []int

	// FibLength is the number of Fibonacci terms (fibonacci_sequence).
	FibLength int

	// PhiTones is the number of golden-ratio harmonics (golden_ratio).
	PhiTones int
}

// Probe is an immutable stimulus descriptor. KLScore is a static prior
// for the probe's expected discriminating power between H0 and H1; the
// selection policy treats higher scores as more informative.
type Probe struct {
	Kind        Kind
	Params      Params
	Description string
	KLScore     float64
}

func (p Probe) String() string {
	return fmt.Sprintf("Probe(%s, kl=%.3f)", p.Kind, p.KLScore)
}

// Signal is interleaved 8-bit IQ baseband: I then Q for each sample,
// each channel quantized to [-127, 127]. Produced fresh per render,
// never cached.
type Signal []int8

// Samples returns the number of complex samples in the signal.
func (s Signal) Samples() int {
	return len(s) / 2
}
