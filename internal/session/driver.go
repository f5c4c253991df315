package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rf-discovery/internal/analysis"
	"rf-discovery/internal/policy"
	"rf-discovery/internal/probe"
	"rf-discovery/internal/sprt"
)

// Outcome is the session-level verdict. Hitting the iteration budget
// while the test is still pending is reported as undecided, never as a
// quiet-channel decision.
type Outcome string

const (
	OutcomeH0        Outcome = "h0"
	OutcomeH1        Outcome = "h1"
	OutcomeUndecided Outcome = "undecided"
)

// Result summarizes a finished session.
type Result struct {
	SessionID    string             `json:"session_id"`
	Outcome      Outcome            `json:"outcome"`
	Steps        int                `json:"steps"`
	FinalLogOdds float64            `json:"final_log_odds"`
	LLRHistory   []float64          `json:"llr_history"`
	ProbesUsed   map[string]int     `json:"probes_used"`
	Baseline     *analysis.Baseline `json:"baseline,omitempty"`
}

// Driver owns one experiment session end to end.
type Driver struct {
	cfg       Config
	channel   Channel
	library   *probe.Library
	catalog   []probe.Probe
	test      *sprt.Test
	analyzer  *analysis.Analyzer
	selector  policy.Policy
	recorder  Recorder
	log       *slog.Logger
	sessionID string
}

type DriverOption func(*Driver)

func WithRecorder(r Recorder) DriverOption {
	return func(d *Driver) { d.recorder = r }
}

func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.log = l }
}

func WithPolicy(p policy.Policy) DriverOption {
	return func(d *Driver) { d.selector = p }
}

func WithSessionID(id string) DriverOption {
	return func(d *Driver) { d.sessionID = id }
}

// WithCatalog overrides the standard probe set, mainly for tests that
// want a single fast probe.
func WithCatalog(catalog []probe.Probe) DriverOption {
	return func(d *Driver) { d.catalog = catalog }
}

func NewDriver(cfg Config, ch Channel, opts ...DriverOption) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	test, err := sprt.New(cfg.SPRTAlpha, cfg.SPRTBeta)
	if err != nil {
		return nil, err
	}
	d := &Driver{
		cfg:       cfg,
		channel:   ch,
		library:   probe.NewLibrary(cfg.SampleRate, cfg.ProbeLibrarySeed),
		catalog:   probe.StandardLibrary(),
		test:      test,
		recorder:  NopRecorder{},
		log:       slog.Default(),
		selector:  policy.NewKLOptimal(),
		sessionID: time.Now().UTC().Format("20060102_150405"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.analyzer = analysis.NewAnalyzer(float64(cfg.SampleRate), cfg.AnomalyThresholdSigma, d.log)
	return d, nil
}

func (d *Driver) SessionID() string { return d.sessionID }

// captureFrequency is where the receiver tunes: the carrier plus the
// configured offset, so a hardware DC spike does not sit on the signal.
func (d *Driver) captureFrequency() float64 {
	return d.cfg.CarrierFreq + d.cfg.CenterFreqOffset
}

// Run executes the full probe, observe, decide loop and blocks until a
// decision, the iteration budget, or context cancellation.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if !d.channel.Available() {
		return nil, ErrHardwareUnavailable
	}
	started := time.Now().UTC()
	d.log.Info("session starting",
		"session_id", d.sessionID,
		"carrier_hz", d.cfg.CarrierFreq,
		"sample_rate", d.cfg.SampleRate,
		"max_iterations", d.cfg.MaxIterations)

	baseline, err := d.calibrate(ctx)
	if err != nil {
		return nil, err
	}
	d.analyzer.SetBaseline(baseline)
	d.log.Info("baseline calibrated", "mean", baseline.Mean, "std", baseline.StdDev)

	state := d.test.NewState()
	var history []policy.Observation
	usage := make(map[string]int)
	var llrs []float64

	for iter := 1; iter <= d.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := d.selector.Select(d.catalog, history)
		signal, err := d.library.Render(p, d.cfg.ProbeDuration)
		if err != nil {
			return nil, fmt.Errorf("render probe %q: %w", p.Kind, err)
		}
		usage[string(p.Kind)]++

		d.transmitAndWait(ctx, p, signal)
		if err := d.sleep(ctx, d.cfg.InterProbeDelay); err != nil {
			return nil, err
		}

		response := d.capture(ctx, p)
		metrics := d.analyzer.Analyze(string(p.Kind), response, signal)
		llr := d.analyzer.LLR(metrics)
		if err := d.test.Update(state, llr); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iter, err)
		}
		llrs = append(llrs, llr)
		history = append(history, policy.Observation{Kind: p.Kind, AnomalyScore: metrics.AnomalyScore})

		d.log.Info("iteration complete",
			"session_id", d.sessionID,
			"iteration", iter,
			"probe", p.Kind,
			"power_mean", metrics.PowerMean,
			"anomaly_score", metrics.AnomalyScore,
			"llr", llr,
			"cumulative_log_odds", state.CumulativeLogOdds,
			"decision", state.Decision)

		rec := IterationRecord{
			SessionID: d.sessionID,
			Iteration: iter,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Probe: ProbeRecord{
				Type:        string(p.Kind),
				Description: p.Description,
				KLScore:     p.KLScore,
			},
			Response: responseRecord(metrics),
			SPRT:     sprtRecord(llr, state),
		}
		if err := d.recorder.RecordIteration(rec); err != nil {
			d.log.Warn("recording iteration failed", "error", err)
		}

		if state.Decided() {
			break
		}
	}

	outcome := OutcomeUndecided
	switch state.Decision {
	case sprt.DecisionH0:
		outcome = OutcomeH0
	case sprt.DecisionH1:
		outcome = OutcomeH1
	}

	summary := Summary{
		SessionID:     d.sessionID,
		StartedAt:     started.Format(time.RFC3339),
		FinishedAt:    time.Now().UTC().Format(time.RFC3339),
		Outcome:       string(outcome),
		Steps:         state.Steps,
		FinalLogOdds:  state.CumulativeLogOdds,
		ProbesUsed:    usage,
		BaselineMean:  baseline.Mean,
		BaselineStdev: baseline.StdDev,
	}
	if err := d.recorder.RecordSummary(summary); err != nil {
		d.log.Warn("recording summary failed", "error", err)
	}
	d.log.Info("session finished",
		"session_id", d.sessionID,
		"outcome", outcome,
		"steps", state.Steps,
		"final_log_odds", state.CumulativeLogOdds)

	return &Result{
		SessionID:    d.sessionID,
		Outcome:      outcome,
		Steps:        state.Steps,
		FinalLogOdds: state.CumulativeLogOdds,
		LLRHistory:   llrs,
		ProbesUsed:   usage,
		Baseline:     baseline,
	}, nil
}

// calibrate takes quiet-channel captures before any probe goes out.
// Individual capture failures are tolerated; calibration fails only
// when too few captures survive for a meaningful spread.
func (d *Driver) calibrate(ctx context.Context) (*analysis.Baseline, error) {
	captures := make([][]int8, 0, d.cfg.BaselineSampleCount)
	for i := 0; i < d.cfg.BaselineSampleCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf, err := d.channel.Capture(ctx, d.cfg.ListenDuration, d.captureFrequency(), d.cfg.SampleRate, d.cfg.RxGain)
		if err != nil {
			d.log.Warn("baseline capture failed", "attempt", i+1, "error", err)
			continue
		}
		captures = append(captures, buf)
	}
	return analysis.Calibrate(captures, float64(d.cfg.SampleRate))
}

// transmitAndWait puts the probe on the air for the probe duration and
// stops it. Transmit failures degrade to a listen-only iteration.
func (d *Driver) transmitAndWait(ctx context.Context, p probe.Probe, signal []int8) {
	handle, err := d.channel.Transmit(ctx, signal, true)
	if err != nil {
		d.log.Warn("transmit failed, listening anyway", "probe", p.Kind, "error", err)
		return
	}
	if err := d.sleep(ctx, d.cfg.ProbeDuration); err != nil {
		// Context gone; still try to get off the air.
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = handle.Stop(stopCtx)
		return
	}
	if err := handle.Stop(ctx); err != nil {
		d.log.Warn("stopping transmission failed", "probe", p.Kind, "error", err)
	}
}

// capture records the listen window. On failure it returns a short
// all-zero sentinel so the iteration still produces a record with a
// strongly negative LLR instead of crashing the session.
func (d *Driver) capture(ctx context.Context, p probe.Probe) []int8 {
	buf, err := d.channel.Capture(ctx, d.cfg.ListenDuration, d.captureFrequency(), d.cfg.SampleRate, d.cfg.RxGain)
	if err != nil {
		d.log.Warn("capture failed, substituting silence", "probe", p.Kind, "error", err)
		return make([]int8, 100)
	}
	return buf
}

func (d *Driver) sleep(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
