// Package analysis turns captured IQ buffers into the statistics the
// decision loop consumes: a calibrated noise baseline, per-response
// spectral metrics, and the Gaussian log-likelihood ratio feeding the
// sequential test.
package analysis

import (
	"errors"
	"fmt"

	"rf-discovery/internal/dsp"
)

// ErrInsufficientBaseline is returned when too few captures survive to
// estimate the environment statistics.
var ErrInsufficientBaseline = errors.New("analysis: insufficient baseline captures")

// Baseline is the calibrated quiet-environment model: mean and spread
// of per-capture average spectral power.
type Baseline struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Calibrate estimates the baseline from raw IQ captures taken with no
// probe on the air. Each capture contributes its mean PSD value; at
// least two usable captures are required so the spread is meaningful.
func Calibrate(captures [][]int8, sampleRate float64) (*Baseline, error) {
	var powers []float64
	for _, capture := range captures {
		psd := dsp.Welch(dsp.DecodeIQ(capture), sampleRate)
		if len(psd) == 0 {
			continue
		}
		powers = append(powers, dsp.Mean(psd))
	}
	if len(powers) < 2 {
		return nil, fmt.Errorf("%w: %d usable of %d captures", ErrInsufficientBaseline, len(powers), len(captures))
	}
	return &Baseline{
		Mean:   dsp.Mean(powers),
		StdDev: dsp.StdDev(powers),
	}, nil
}
