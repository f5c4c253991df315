package probe

import "math"

// schumannModes are the first five Schumann resonance frequencies in Hz,
// indexed by mode number. They form the low-frequency AM envelope.
var schumannModes = map[int]float64{
	1: 7.83,
	2: 14.3,
	3: 20.8,
	4: 27.3,
	5: 33.8,
}

// primeTable is the pulse-interval source for prime-gated probes.
var primeTable = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47}

const pulseWidthCap = 0.1 // seconds

func sampleCount(duration float64, sampleRate int) int {
	return int(math.Round(duration * float64(sampleRate)))
}

// primeOffsetGate emits a short pulse starting at each prime-numbered
// second offset. Offsets beyond the duration are ignored; a buffer longer
// than the table covers stays at rest.
func primeOffsetGate(duration float64, sampleRate int) []float64 {
	n := sampleCount(duration, sampleRate)
	gate := make([]float64, n)
	for _, p := range primeTable {
		start := float64(p)
		if start >= duration {
			break
		}
		markRange(gate, start, start+pulseWidthCap, sampleRate)
	}
	return gate
}

// squareGate is a repeating one second period gate, on for duty of each
// period.
func squareGate(duration, duty float64, sampleRate int) []float64 {
	n := sampleCount(duration, sampleRate)
	gate := make([]float64, n)
	if duty <= 0 {
		return gate
	}
	if duty >= 1 {
		for i := range gate {
			gate[i] = 1
		}
		return gate
	}
	for i := range gate {
		t := float64(i) / float64(sampleRate)
		if t-math.Floor(t) < duty {
			gate[i] = 1
		}
	}
	return gate
}

// intervalGate emits pulses separated by the given intervals (seconds),
// each pulse lasting min(pulseWidthCap, interval*widthScale). If the
// interval list exhausts before the buffer fills, the remainder is rest.
func intervalGate(duration float64, sampleRate int, intervals []float64, widthScale float64) []float64 {
	n := sampleCount(duration, sampleRate)
	gate := make([]float64, n)
	t := 0.0
	for _, interval := range intervals {
		if t >= duration {
			break
		}
		width := math.Min(pulseWidthCap, interval*widthScale)
		markRange(gate, t, t+width, sampleRate)
		t += interval
	}
	return gate
}

func markRange(gate []float64, from, to float64, sampleRate int) {
	start := int(from * float64(sampleRate))
	end := int(to * float64(sampleRate))
	if start < 0 {
		start = 0
	}
	if end > len(gate) {
		end = len(gate)
	}
	for i := start; i < end; i++ {
		gate[i] = 1
	}
}

// chirp sweeps the instantaneous frequency linearly from fStart to fEnd.
// Phase is the running integral of instantaneous frequency, so there are
// no phase discontinuities as the frequency moves.
func chirp(fStart, fEnd, duration float64, sampleRate int) []float64 {
	n := sampleCount(duration, sampleRate)
	out := make([]float64, n)
	phase := 0.0
	for i := 0; i < n; i++ {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		fInst := fStart + (fEnd-fStart)*frac
		phase += 2 * math.Pi * fInst / float64(sampleRate)
		out[i] = math.Sin(phase)
	}
	return out
}

// goldenMultitone sums sinusoids at phi^1 .. phi^tones Hz, each divided
// by its harmonic index, dropping tones at or beyond Nyquist, then peak
// normalizes.
func goldenMultitone(duration float64, sampleRate, tones int) []float64 {
	phi := (1 + math.Sqrt(5)) / 2
	n := sampleCount(duration, sampleRate)
	out := make([]float64, n)
	for k := 1; k <= tones; k++ {
		freq := math.Pow(phi, float64(k))
		if freq > float64(sampleRate)/2 {
			break
		}
		for i := 0; i < n; i++ {
			t := float64(i) / float64(sampleRate)
			out[i] += math.Sin(2*math.Pi*freq*t) / float64(k)
		}
	}
	return normalize(out)
}

// modeEnvelope builds the weighted sum of Schumann mode sinusoids and
// peak normalizes it. Unknown mode indices contribute nothing.
func modeEnvelope(duration float64, sampleRate int, weights map[int]float64) []float64 {
	n := sampleCount(duration, sampleRate)
	out := make([]float64, n)
	for mode, weight := range weights {
		freq, ok := schumannModes[mode]
		if !ok {
			continue
		}
		for i := 0; i < n; i++ {
			t := float64(i) / float64(sampleRate)
			out[i] += weight * math.Sin(2*math.Pi*freq*t)
		}
	}
	return normalize(out)
}

// normalize scales the sequence to peak magnitude 1. A silent sequence
// is returned untouched.
func normalize(x []float64) []float64 {
	peak := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return x
	}
	for i := range x {
		x[i] /= peak
	}
	return x
}

// toIQ quantizes independent I and Q channels to interleaved int8.
// Channels exceeding [-1, 1] are normalized first, independently.
func toIQ(iCh, qCh []float64) Signal {
	iCh = boundUnit(iCh)
	qCh = boundUnit(qCh)
	n := len(iCh)
	if len(qCh) < n {
		n = len(qCh)
	}
	out := make(Signal, 2*n)
	for k := 0; k < n; k++ {
		out[2*k] = quantize(iCh[k])
		out[2*k+1] = quantize(qCh[k])
	}
	return out
}

func boundUnit(x []float64) []float64 {
	for _, v := range x {
		if v > 1 || v < -1 {
			return normalize(x)
		}
	}
	return x
}

func quantize(v float64) int8 {
	q := math.Round(v * 127)
	if q > 127 {
		q = 127
	}
	if q < -127 {
		q = -127
	}
	return int8(q)
}

func zeros(n int) []float64 {
	return make([]float64, n)
}
