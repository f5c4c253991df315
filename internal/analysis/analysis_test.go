package analysis

import (
	"errors"
	"math"
	"testing"
)

// noisyCapture builds an interleaved IQ buffer with a deterministic
// pseudo-random texture so PSD estimates have spread.
func noisyCapture(n int, scale float64, seed int8) []int8 {
	buf := make([]int8, 2*n)
	x := int32(seed)
	for i := range buf {
		x = x*1103515245/65536 + 12345
		v := float64(x%100) / 100.0 * scale
		if v > 1 {
			v = 1
		}
		if v < -1 {
			v = -1
		}
		buf[i] = int8(v * 127)
	}
	return buf
}

func TestCalibrateRequiresTwoCaptures(t *testing.T) {
	_, err := Calibrate(nil, 48000)
	if !errors.Is(err, ErrInsufficientBaseline) {
		t.Fatalf("no captures: err = %v, want ErrInsufficientBaseline", err)
	}
	_, err = Calibrate([][]int8{noisyCapture(256, 0.5, 1)}, 48000)
	if !errors.Is(err, ErrInsufficientBaseline) {
		t.Fatalf("one capture: err = %v, want ErrInsufficientBaseline", err)
	}
}

func TestCalibrateSkipsEmptyCaptures(t *testing.T) {
	captures := [][]int8{
		nil,
		noisyCapture(256, 0.5, 1),
		{},
		noisyCapture(256, 0.5, 2),
	}
	b, err := Calibrate(captures, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if b.Mean <= 0 {
		t.Errorf("mean = %v, want > 0", b.Mean)
	}
}

func TestCalibrateIdenticalCaptures(t *testing.T) {
	c := noisyCapture(512, 0.5, 7)
	b, err := Calibrate([][]int8{c, c}, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if b.StdDev != 0 {
		t.Errorf("identical captures: stddev = %v, want 0", b.StdDev)
	}
}

func TestCalibrateScalesWithPower(t *testing.T) {
	quiet, err := Calibrate([][]int8{
		noisyCapture(512, 0.1, 1),
		noisyCapture(512, 0.1, 2),
	}, 48000)
	if err != nil {
		t.Fatal(err)
	}
	loud, err := Calibrate([][]int8{
		noisyCapture(512, 0.9, 1),
		noisyCapture(512, 0.9, 2),
	}, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if loud.Mean <= quiet.Mean {
		t.Errorf("loud mean %v not above quiet mean %v", loud.Mean, quiet.Mean)
	}
}

func TestLLRSigns(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	a.SetBaseline(&Baseline{Mean: 1.0, StdDev: 0.1})

	atMean := a.LLR(Metrics{PowerMean: 1.0})
	if atMean >= 0 {
		t.Errorf("LLR at baseline mean = %v, want strictly negative", atMean)
	}
	if math.Abs(atMean-(-4.5)) > 1e-6 {
		t.Errorf("LLR at baseline mean = %v, want about -4.5", atMean)
	}

	elevated := a.LLR(Metrics{PowerMean: 1.3})
	if math.Abs(elevated-4.5) > 1e-6 {
		t.Errorf("LLR at mean+3sigma = %v, want about 4.5", elevated)
	}
}

func TestLLRKeepsMagnitudeAtDensityScale(t *testing.T) {
	// Density-scaled PSD means at SDR sample rates sit around 1e-7 with
	// spreads around 1e-8; the LLR must keep its ±threshold²/2 magnitude
	// there, not collapse toward zero.
	a := NewAnalyzer(2_000_000, 3.0, nil)
	a.SetBaseline(&Baseline{Mean: 1e-7, StdDev: 1e-8})

	atMean := a.LLR(Metrics{PowerMean: 1e-7})
	if math.Abs(atMean-(-4.5)) > 1e-6 {
		t.Errorf("LLR at baseline mean = %v, want about -4.5", atMean)
	}
	elevated := a.LLR(Metrics{PowerMean: 1.3e-7})
	if math.Abs(elevated-4.5) > 1e-6 {
		t.Errorf("LLR at mean+3sigma = %v, want about 4.5", elevated)
	}
}

func TestLLRZeroSpreadBaselineIsZero(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	a.SetBaseline(&Baseline{Mean: 1e-7, StdDev: 0})
	if got := a.LLR(Metrics{PowerMean: 5e-7}); got != 0 {
		t.Errorf("LLR with zero-spread baseline = %v, want 0", got)
	}
}

func TestLLRWithoutBaselineIsZero(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	if got := a.LLR(Metrics{PowerMean: 5}); got != 0 {
		t.Errorf("LLR without baseline = %v, want 0", got)
	}
}

func TestAnomalyComparatorIsStrict(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	buf := noisyCapture(1024, 0.5, 5)
	power := a.Analyze("probe", buf, nil).PowerMean

	// Sitting exactly three sigma above baseline falls fractionally short
	// of the threshold because of the epsilon in the denominator.
	a.SetBaseline(&Baseline{Mean: power - 0.3, StdDev: 0.1})
	at := a.Analyze("probe", buf, nil)
	if at.IsAnomaly {
		t.Errorf("score %v at exactly three sigma flagged as anomaly", at.AnomalyScore)
	}

	a.SetBaseline(&Baseline{Mean: power - 0.4, StdDev: 0.1})
	above := a.Analyze("probe", buf, nil)
	if !above.IsAnomaly {
		t.Errorf("score %v above three sigma not flagged", above.AnomalyScore)
	}
}

func TestAnalyzeClassifiesAgainstBaseline(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)

	quiet := noisyCapture(1024, 0.05, 3)
	b, err := Calibrate([][]int8{
		noisyCapture(1024, 0.05, 1),
		noisyCapture(1024, 0.05, 2),
		quiet,
	}, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if b.StdDev == 0 {
		t.Fatal("setup error: zero-spread baseline")
	}
	a.SetBaseline(b)

	loud := a.Analyze("loud", noisyCapture(1024, 0.9, 4), nil)
	if !loud.IsAnomaly {
		t.Errorf("loud capture: anomaly score %v not flagged", loud.AnomalyScore)
	}
	quietM := a.Analyze("quiet", quiet, nil)
	if quietM.IsAnomaly {
		t.Errorf("baseline-level capture flagged as anomaly, score %v", quietM.AnomalyScore)
	}
}

func TestAnalyzeWithoutBaseline(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	m := a.Analyze("p", noisyCapture(256, 0.5, 1), nil)
	if m.AnomalyScore != 0 {
		t.Errorf("anomaly score without baseline = %v, want 0", m.AnomalyScore)
	}
	if m.IsAnomaly {
		t.Error("anomaly flagged without baseline")
	}
}

func TestAnalyzeEmptyResponse(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	m := a.Analyze("p", nil, nil)
	if !math.IsInf(m.SNRdB, -1) {
		t.Errorf("SNR for empty response = %v, want -Inf", m.SNRdB)
	}
	if m.PowerMean != 0 || m.PeakPower != 0 {
		t.Errorf("empty response: power mean %v, peak %v, want zeros", m.PowerMean, m.PeakPower)
	}
	if m.PeakFreq != nil {
		t.Errorf("empty response: peak freq = %v, want absent", *m.PeakFreq)
	}
}

func TestAnalyzeReportsPeakFrequency(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	m := a.Analyze("p", noisyCapture(512, 0.5, 3), nil)
	if m.PeakFreq == nil {
		t.Fatal("peak freq absent for a non-empty capture")
	}
	if *m.PeakFreq < -24000 || *m.PeakFreq > 24000 {
		t.Errorf("peak freq %v outside +-Nyquist", *m.PeakFreq)
	}
}

func TestCorrelationSelf(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	buf := noisyCapture(512, 0.7, 9)
	m := a.Analyze("p", buf, buf)
	if math.Abs(m.Correlation-1) > 1e-9 {
		t.Errorf("self correlation = %v, want 1", m.Correlation)
	}
}

func TestCorrelationZeroVarianceReference(t *testing.T) {
	a := NewAnalyzer(48000, 3.0, nil)
	flat := make([]int8, 512)
	m := a.Analyze("p", noisyCapture(256, 0.7, 9), flat)
	if m.Correlation != 0 {
		t.Errorf("correlation against flat reference = %v, want 0", m.Correlation)
	}
}
