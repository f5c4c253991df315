package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"rf-discovery/internal/analysis"
	"rf-discovery/internal/probe"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 48000
	cfg.ProbeDuration = 0.01
	cfg.ListenDuration = 0.02
	cfg.InterProbeDelay = 0
	cfg.BaselineSampleCount = 3
	cfg.MaxIterations = 50
	return cfg
}

// texturedBuf builds a deterministic pseudo-random IQ buffer.
func texturedBuf(n int, scale float64, seed int8) []int8 {
	buf := make([]int8, 2*n)
	x := int32(seed)
	for i := range buf {
		x = x*1103515245/65536 + 12345
		v := float64(x%100) / 100.0 * scale
		buf[i] = int8(v * 127)
	}
	return buf
}

// scriptedChannel serves fixed baseline captures, then a fixed loop
// capture, so session outcomes are fully deterministic.
type scriptedChannel struct {
	baseline    [][]int8
	response    []int8
	captureErr  error
	calls       int
	unavailable bool
}

func (s *scriptedChannel) Available() bool { return !s.unavailable }

func (s *scriptedChannel) Transmit(ctx context.Context, signal []int8, repeat bool) (TransmitHandle, error) {
	return nopHandle{}, nil
}

type nopHandle struct{}

func (nopHandle) Stop(context.Context) error { return nil }

func (s *scriptedChannel) Capture(ctx context.Context, duration, centerFreq float64, sampleRate, gain int) ([]int8, error) {
	defer func() { s.calls++ }()
	if s.calls < len(s.baseline) {
		return s.baseline[s.calls], nil
	}
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return s.response, nil
}

func baselineCaptures() [][]int8 {
	return [][]int8{
		texturedBuf(960, 0.10, 1),
		texturedBuf(960, 0.11, 2),
		texturedBuf(960, 0.12, 3),
	}
}

func TestRunDecidesQuietChannel(t *testing.T) {
	base := baselineCaptures()
	ch := &scriptedChannel{baseline: base, response: base[0]}
	d, err := NewDriver(fastConfig(), ch, WithSessionID("quiet"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeH0 {
		t.Fatalf("outcome = %q, want h0 (final log odds %v)", res.Outcome, res.FinalLogOdds)
	}
	if res.FinalLogOdds >= 0 {
		t.Errorf("final log odds = %v, want negative", res.FinalLogOdds)
	}
	if res.Steps < 1 || res.Steps > 50 {
		t.Errorf("steps = %d, want within iteration budget", res.Steps)
	}
}

func TestRunDetectsLoudResponder(t *testing.T) {
	ch := &scriptedChannel{baseline: baselineCaptures(), response: texturedBuf(960, 0.9, 7)}
	d, err := NewDriver(fastConfig(), ch, WithSessionID("loud"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeH1 {
		t.Fatalf("outcome = %q, want h1 (final log odds %v)", res.Outcome, res.FinalLogOdds)
	}
	if res.Steps != 1 {
		t.Errorf("steps = %d, want 1 for an overwhelming response", res.Steps)
	}
}

func TestRunUndecidedAtIterationBudget(t *testing.T) {
	base := baselineCaptures()
	// The loudest baseline-level capture keeps each LLR inside the
	// decision bounds, so a one-iteration budget must end undecided.
	cfg := fastConfig()
	cfg.MaxIterations = 1
	ch := &scriptedChannel{baseline: base, response: base[2]}
	d, err := NewDriver(cfg, ch)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeUndecided {
		t.Fatalf("outcome = %q, want undecided", res.Outcome)
	}
	if res.Steps != 1 {
		t.Errorf("steps = %d, want 1", res.Steps)
	}
}

func TestRunCaptureFailureSubstitutesSilence(t *testing.T) {
	ch := &scriptedChannel{baseline: baselineCaptures(), captureErr: errors.New("rx pipe broke")}
	rec := &memRecorder{}
	d, err := NewDriver(fastConfig(), ch, WithRecorder(rec))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeH0 {
		t.Fatalf("outcome = %q, want h0 from silent substitutes", res.Outcome)
	}
	if len(rec.iterations) == 0 {
		t.Fatal("no iteration records")
	}
	first := rec.iterations[0]
	if first.Response.IsAnomaly {
		t.Error("silent substitute flagged as anomaly")
	}
	if first.Response.PowerMean != 0 {
		t.Errorf("silent substitute power mean = %v, want 0", first.Response.PowerMean)
	}
}

func TestRunHardwareUnavailable(t *testing.T) {
	ch := &scriptedChannel{unavailable: true}
	d, err := NewDriver(fastConfig(), ch)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); !errors.Is(err, ErrHardwareUnavailable) {
		t.Fatalf("err = %v, want ErrHardwareUnavailable", err)
	}
}

func TestRunInsufficientBaseline(t *testing.T) {
	ch := &scriptedChannel{captureErr: errors.New("rx dead")}
	d, err := NewDriver(fastConfig(), ch)
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Run(context.Background())
	if err == nil {
		t.Fatal("want calibration error, got nil")
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := &scriptedChannel{baseline: baselineCaptures()}
	d, err := NewDriver(fastConfig(), ch)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSimChannelAdaptiveResponderDecidesH1(t *testing.T) {
	ch := NewSimChannel(42, WithAdaptiveResponder(0.8))
	catalog := []probe.Probe{probe.StandardLibrary()[0]}
	d, err := NewDriver(fastConfig(), ch, WithCatalog(catalog))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeH1 {
		t.Fatalf("outcome = %q, want h1 from adaptive responder", res.Outcome)
	}
}

func TestSimChannelNoiseOnlyDoesNotDecideH1(t *testing.T) {
	ch := NewSimChannel(1)
	d, err := NewDriver(fastConfig(), ch)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome == OutcomeH1 {
		t.Fatalf("noise-only channel decided h1 after %d steps", res.Steps)
	}
}

type memRecorder struct {
	iterations []IterationRecord
	summaries  []Summary
}

func (m *memRecorder) RecordIteration(rec IterationRecord) error {
	m.iterations = append(m.iterations, rec)
	return nil
}

func (m *memRecorder) RecordSummary(s Summary) error {
	m.summaries = append(m.summaries, s)
	return nil
}

func TestJSONLRecorderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewJSONLRecorder(dir, "sess1")
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	for i := 1; i <= 3; i++ {
		err := rec.RecordIteration(IterationRecord{
			SessionID: "sess1",
			Iteration: i,
			Probe:     ProbeRecord{Type: "silence", KLScore: 0.1},
			SPRT:      SPRTRecord{LLR: -1, Decision: "pending", Steps: i},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := rec.RecordSummary(Summary{SessionID: "sess1", Outcome: "h0", Steps: 3}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "sess1_iterations.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		var rec IterationRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d: %v", lines+1, err)
		}
		lines++
		if rec.Iteration != lines {
			t.Errorf("line %d has iteration %d", lines, rec.Iteration)
		}
	}
	if lines != 3 {
		t.Errorf("iteration log has %d lines, want 3", lines)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sess1_summary.json"))
	if err != nil {
		t.Fatal(err)
	}
	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Outcome != "h0" {
		t.Errorf("summary outcome = %q, want h0", sum.Outcome)
	}
}

func TestRecordMarshalsAbsentValuesAsNull(t *testing.T) {
	// Empty-spectrum metrics: SNR is -Inf and there is no peak bin.
	r := responseRecord(analysis.Metrics{SNRdB: math.Inf(-1), PowerMean: 0.5})
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["snr_db"] != nil {
		t.Errorf("snr_db = %v, want null", decoded["snr_db"])
	}
	if decoded["peak_freq"] != nil {
		t.Errorf("peak_freq = %v, want null", decoded["peak_freq"])
	}
}
