// Package dsp holds the spectral estimation primitives shared by the
// baseline calibrator and the response analyzer.
package dsp

import (
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// MaxSegment bounds the per-segment FFT size for Welch averaging.
const MaxSegment = 1024

// DecodeIQ converts interleaved int8 IQ samples to complex baseband with
// each channel normalized to [-1, 1]. A trailing unpaired byte is dropped.
func DecodeIQ(raw []int8) []complex128 {
	n := len(raw) / 2
	out := make([]complex128, n)
	for k := 0; k < n; k++ {
		i := float64(raw[2*k]) / 127.0
		q := float64(raw[2*k+1]) / 127.0
		out[k] = complex(i, q)
	}
	return out
}

// Welch estimates the power spectral density of a complex sequence using
// Hann-windowed segments of at most MaxSegment samples with 50% overlap,
// density scaling. The result has one non-negative entry per frequency
// bin of the segment. Returns nil for an empty input.
func Welch(samples []complex128, sampleRate float64) []float64 {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return nil
	}
	seg := MaxSegment
	if n < seg {
		seg = n
	}
	step := seg / 2
	if step < 1 {
		step = 1
	}
	win := window.Hann(seg)
	winPower := 0.0
	for _, w := range win {
		winPower += w * w
	}
	if winPower == 0 {
		// Hann of a single sample is identically zero; fall back to a
		// rectangular window so short buffers still produce an estimate.
		for i := range win {
			win[i] = 1
		}
		winPower = float64(seg)
	}

	psd := make([]float64, seg)
	segments := 0
	for start := 0; start+seg <= n; start += step {
		buf := make([]complex128, seg)
		for i := 0; i < seg; i++ {
			buf[i] = samples[start+i] * complex(win[i], 0)
		}
		spectrum := fft.FFT(buf)
		for i, v := range spectrum {
			re, im := real(v), imag(v)
			psd[i] += re*re + im*im
		}
		segments++
	}
	if segments == 0 {
		return nil
	}
	scale := 1.0 / (sampleRate * winPower * float64(segments))
	for i := range psd {
		psd[i] *= scale
	}
	return psd
}

// BinFrequency maps a PSD vector index to its frequency in Hz using the
// standard DFT mapping: the upper half of the spectrum is the negative
// baseband frequencies. The second return is false for an out-of-range
// index.
func BinFrequency(index, bins int, sampleRate float64) (float64, bool) {
	if bins <= 0 || index < 0 || index >= bins {
		return 0, false
	}
	k := index
	if k > bins/2 {
		k -= bins
	}
	return float64(k) * sampleRate / float64(bins), true
}
