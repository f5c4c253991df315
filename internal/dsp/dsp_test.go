package dsp

import (
	"math"
	"testing"
)

func TestDecodeIQ(t *testing.T) {
	raw := []int8{127, 0, 0, -127, 64, 64}
	got := DecodeIQ(raw)
	want := []complex128{
		complex(1, 0),
		complex(0, -1),
		complex(64.0/127, 64.0/127),
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if cmplx := got[i] - want[i]; math.Abs(real(cmplx)) > 1e-12 || math.Abs(imag(cmplx)) > 1e-12 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodeIQDropsTrailingByte(t *testing.T) {
	if got := DecodeIQ([]int8{1, 2, 3}); len(got) != 1 {
		t.Errorf("decoded %d samples from 3 bytes, want 1", len(got))
	}
}

func TestWelchEmpty(t *testing.T) {
	if got := Welch(nil, 48000); got != nil {
		t.Errorf("Welch(nil) = %v, want nil", got)
	}
	if got := Welch([]complex128{1}, 0); got != nil {
		t.Errorf("Welch with zero sample rate = %v, want nil", got)
	}
}

func TestWelchSegmentLength(t *testing.T) {
	short := make([]complex128, 300)
	if got := Welch(short, 48000); len(got) != 300 {
		t.Errorf("short input PSD has %d bins, want 300", len(got))
	}
	long := make([]complex128, 5000)
	if got := Welch(long, 48000); len(got) != MaxSegment {
		t.Errorf("long input PSD has %d bins, want %d", len(got), MaxSegment)
	}
}

func TestWelchTonePeak(t *testing.T) {
	const sr = 1024.0
	n := 4096
	freq := 128.0
	samples := make([]complex128, n)
	for i := range samples {
		phase := 2 * math.Pi * freq * float64(i) / sr
		samples[i] = complex(math.Cos(phase), math.Sin(phase))
	}
	psd := Welch(samples, sr)
	if len(psd) != MaxSegment {
		t.Fatalf("PSD has %d bins, want %d", len(psd), MaxSegment)
	}
	peak := 0
	for i, v := range psd {
		if v > psd[peak] {
			peak = i
		}
	}
	got, ok := BinFrequency(peak, len(psd), sr)
	if !ok {
		t.Fatalf("peak index %d out of range", peak)
	}
	if math.Abs(got-freq) > sr/float64(MaxSegment) {
		t.Errorf("peak frequency = %v Hz, want %v Hz", got, freq)
	}
}

func TestWelchScalesWithPower(t *testing.T) {
	n := 2048
	quiet := make([]complex128, n)
	loud := make([]complex128, n)
	for i := range quiet {
		v := math.Sin(float64(i) * 0.37)
		quiet[i] = complex(0.1*v, 0)
		loud[i] = complex(0.9*v, 0)
	}
	if Mean(Welch(loud, 48000)) <= Mean(Welch(quiet, 48000)) {
		t.Error("louder signal did not raise mean PSD")
	}
}

func TestWelchNonNegative(t *testing.T) {
	n := 1500
	samples := make([]complex128, n)
	for i := range samples {
		samples[i] = complex(math.Sin(float64(i)), math.Cos(float64(i)*1.7))
	}
	for i, v := range Welch(samples, 48000) {
		if v < 0 {
			t.Fatalf("bin %d is negative: %v", i, v)
		}
	}
}

func TestBinFrequencyMapping(t *testing.T) {
	if f, ok := BinFrequency(0, 1024, 48000); !ok || f != 0 {
		t.Errorf("DC bin = %v, %v", f, ok)
	}
	if f, ok := BinFrequency(1, 1024, 48000); !ok || math.Abs(f-48000.0/1024) > 1e-9 {
		t.Errorf("bin 1 = %v, want %v", f, 48000.0/1024)
	}
	if f, ok := BinFrequency(1023, 1024, 48000); !ok || math.Abs(f+48000.0/1024) > 1e-9 {
		t.Errorf("last bin = %v, want %v", f, -48000.0/1024)
	}
	if _, ok := BinFrequency(1024, 1024, 48000); ok {
		t.Error("out-of-range index accepted")
	}
	if _, ok := BinFrequency(0, 0, 48000); ok {
		t.Error("zero bins accepted")
	}
}

func TestMeanStdDev(t *testing.T) {
	vals := []float64{1, 2, 3, 4}
	if got := Mean(vals); got != 2.5 {
		t.Errorf("mean = %v, want 2.5", got)
	}
	want := math.Sqrt(1.25)
	if got := StdDev(vals); math.Abs(got-want) > 1e-12 {
		t.Errorf("stddev = %v, want %v", got, want)
	}
	if Mean(nil) != 0 || StdDev(nil) != 0 {
		t.Error("empty input should yield zeros")
	}
}

func TestPercentile(t *testing.T) {
	vals := []float64{4, 1, 3, 2}
	cases := []struct {
		q, want float64
	}{
		{0, 1},
		{25, 1.75},
		{50, 2.5},
		{100, 4},
	}
	for _, c := range cases {
		if got := Percentile(vals, c.q); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("percentile %v = %v, want %v", c.q, got, c.want)
		}
	}
	if Percentile(nil, 50) != 0 {
		t.Error("empty percentile should be 0")
	}
}

func TestPercentileDoesNotMutate(t *testing.T) {
	vals := []float64{4, 1, 3, 2}
	Percentile(vals, 25)
	if vals[0] != 4 {
		t.Error("input slice was sorted in place")
	}
}

func TestPearsonCorrelation(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	if got := PearsonCorrelation(a, a); math.Abs(got-1) > 1e-12 {
		t.Errorf("self correlation = %v, want 1", got)
	}
	b := []float64{5, 4, 3, 2, 1}
	if got := PearsonCorrelation(a, b); math.Abs(got+1) > 1e-12 {
		t.Errorf("anti correlation = %v, want -1", got)
	}
	flat := []float64{2, 2, 2, 2, 2}
	if got := PearsonCorrelation(a, flat); got != 0 {
		t.Errorf("correlation against constant = %v, want 0", got)
	}
	if got := PearsonCorrelation(a, []float64{1, 2}); got == 0 {
		t.Errorf("truncated correlation = %v, want nonzero", got)
	}
	if got := PearsonCorrelation(nil, a); got != 0 {
		t.Errorf("empty correlation = %v, want 0", got)
	}
}
