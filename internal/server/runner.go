package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rf-discovery/internal/session"
)

// SessionManager queues discovery sessions and executes them against a
// simulated channel on a fixed pool of workers. Real hardware never
// hangs off the API; the sim keeps the full probe-observe-decide path
// exercised without keying a transmitter.
type SessionManager struct {
	cfg        ServerConfig
	store      Store
	airtime    *AirtimeManager
	obs        *Observability
	queue      chan queuedSession
	wg         sync.WaitGroup
	quickLimit *ipRateLimiter
}

type SessionService interface {
	CreateAdminSession(request SessionRequest, principal Principal, source string) (SessionMeta, error)
	CreateQuickTest(request QuickTestRequest, ipHash, uaHash string) (SessionMeta, error)
}

type queuedSession struct {
	SessionID   string
	Request     SessionRequest
	Creator     Principal
	CreatorType string
	Source      string
}

func NewSessionManager(cfg ServerConfig, store Store, airtime *AirtimeManager, obs *Observability) *SessionManager {
	maxParallel := cfg.Airtime.MaxParallelSessions
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &SessionManager{
		cfg:        cfg,
		store:      store,
		airtime:    airtime,
		obs:        obs,
		queue:      make(chan queuedSession, maxParallel*8),
		quickLimit: newIPRateLimiter(cfg.Limits.QuickTestRPM),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *SessionManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *SessionManager) CreateAdminSession(request SessionRequest, principal Principal, source string) (SessionMeta, error) {
	normalizeSessionRequest(&request, m.cfg)
	if err := sessionConfigFromRequest(request).Validate(); err != nil {
		return SessionMeta{}, err
	}
	sessionID, err := randomID("sess")
	if err != nil {
		return SessionMeta{}, err
	}
	meta := SessionMeta{
		SessionID:   sessionID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request:     request,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateSession(meta); err != nil {
		return SessionMeta{}, err
	}
	_, _ = m.store.AppendSessionEvent(sessionID, "queue", "session queued", map[string]any{
		"source": source,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		SessionID: sessionID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "session.create",
		Result:    "queued",
	})
	m.queue <- queuedSession{
		SessionID:   sessionID,
		Request:     request,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
	}
	return meta, nil
}

func (m *SessionManager) CreateQuickTest(request QuickTestRequest, ipHash, uaHash string) (SessionMeta, error) {
	if !m.quickLimit.Allow(ipHash) {
		if m.obs != nil {
			m.obs.MarkAirtimeBlocked(context.Background(), "quick_test_rate_limit")
		}
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: nowRFC3339(),
			ActorType: "user",
			Action:    "quick_test.reject",
			Result:    "rate_limited",
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return SessionMeta{}, errors.New("quick test rate limit reached")
	}
	sessionRequest, err := scenarioToSessionRequest(request, m.cfg)
	if err != nil {
		return SessionMeta{}, err
	}
	sessionID, err := randomID("sess")
	if err != nil {
		return SessionMeta{}, err
	}
	meta := SessionMeta{
		SessionID:   sessionID,
		Status:      "queued",
		Source:      "user.quick_test",
		CreatorType: "user",
		Request:     sessionRequest,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateSession(meta); err != nil {
		return SessionMeta{}, err
	}
	_, _ = m.store.AppendSessionEvent(sessionID, "queue", "quick test queued", map[string]any{
		"scenario_id": request.ScenarioID,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		SessionID: sessionID,
		ActorType: "user",
		Action:    "quick_test.create",
		Result:    "queued",
		IPHash:    ipHash,
		UAHash:    uaHash,
		Detail:    request.ScenarioID,
	})
	m.queue <- queuedSession{
		SessionID:   sessionID,
		Request:     sessionRequest,
		CreatorType: "user",
		Source:      "user.quick_test",
	}
	return meta, nil
}

func (m *SessionManager) worker() {
	for queued := range m.queue {
		m.executeSession(queued)
	}
}

func (m *SessionManager) executeSession(queued queuedSession) {
	startedAt := nowRFC3339()
	_, _ = m.store.UpdateSession(queued.SessionID, func(meta *SessionMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendSessionEvent(queued.SessionID, "start", "session started", nil)

	cfg := sessionConfigFromRequest(queued.Request)
	estimate := cfg.ProbeDuration * float64(cfg.MaxIterations)
	lease, err := m.airtime.Acquire(estimate)
	if err != nil {
		_, _ = m.store.UpdateSession(queued.SessionID, func(meta *SessionMeta) {
			meta.Status = "fail"
			meta.Error = "airtime unavailable: " + err.Error()
			meta.FinishedAt = nowRFC3339()
			meta.Airtime = AirtimeRecord{
				SessionID:     queued.SessionID,
				BlockedReason: "airtime_unavailable",
			}
		})
		_, _ = m.store.AppendSessionEvent(queued.SessionID, "error", "airtime unavailable", map[string]any{"error": err.Error()})
		if m.obs != nil {
			m.obs.MarkSession(context.Background(), "fail")
			m.obs.MarkAirtimeBlocked(context.Background(), "airtime_unavailable")
		}
		return
	}

	timeoutSec := queued.Request.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = m.cfg.Airtime.DefaultTimeoutSec
	}
	ctx, cancel := withTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	simOpts := []session.SimOption{}
	if queued.Request.NoisePower > 0 {
		simOpts = append(simOpts, session.WithNoisePower(queued.Request.NoisePower))
	}
	if queued.Request.Adaptive {
		gain := queued.Request.ResponderGain
		if gain <= 0 {
			gain = 0.8
		}
		simOpts = append(simOpts, session.WithAdaptiveResponder(gain))
	}
	channel := session.NewSimChannel(queued.Request.Seed, simOpts...)

	driver, err := session.NewDriver(cfg, channel,
		session.WithSessionID(queued.SessionID),
		session.WithRecorder(&storeRecorder{store: m.store, obs: m.obs, sessionID: queued.SessionID}),
	)
	if err == nil {
		var result *session.Result
		result, err = driver.Run(ctx)
		if err == nil {
			outcome := string(result.Outcome)
			actual := cfg.ProbeDuration * float64(result.Steps)
			m.airtime.Commit(lease, actual)
			_, _ = m.store.UpdateSession(queued.SessionID, func(meta *SessionMeta) {
				meta.Status = outcome
				meta.FinishedAt = nowRFC3339()
				meta.Decision = &DecisionSnapshot{
					Outcome:      outcome,
					Steps:        result.Steps,
					FinalLogOdds: result.FinalLogOdds,
					BaselineMean: result.Baseline.Mean,
					BaselineStd:  result.Baseline.StdDev,
					ProbesUsed:   result.ProbesUsed,
				}
				meta.Airtime = AirtimeRecord{
					SessionID:       queued.SessionID,
					ReservedSeconds: lease.ReservedSeconds,
					ConsumedSeconds: actual,
				}
			})
			_, _ = m.store.AppendSessionEvent(queued.SessionID, "completed", "session completed", map[string]any{
				"outcome":        outcome,
				"steps":          result.Steps,
				"final_log_odds": result.FinalLogOdds,
			})
			_ = m.store.AppendAudit(AuditEvent{
				Timestamp: nowRFC3339(),
				SessionID: queued.SessionID,
				ActorType: queued.CreatorType,
				ActorSub:  queued.Creator.Subject,
				Action:    "session.completed",
				Result:    outcome,
				Detail:    fmt.Sprintf("steps=%d airtime=%.2fs", result.Steps, actual),
			})
			if m.obs != nil {
				m.obs.MarkSession(ctx, outcome)
				m.obs.RecordSteps(ctx, outcome, result.Steps)
			}
			return
		}
	}

	m.airtime.Reject(lease)
	_, _ = m.store.UpdateSession(queued.SessionID, func(meta *SessionMeta) {
		meta.Status = "fail"
		meta.Error = err.Error()
		meta.FinishedAt = nowRFC3339()
		meta.Airtime = AirtimeRecord{SessionID: queued.SessionID, ReservedSeconds: lease.ReservedSeconds}
	})
	_, _ = m.store.AppendSessionEvent(queued.SessionID, "error", "session failed", map[string]any{"error": err.Error()})
	if m.obs != nil {
		m.obs.MarkSession(context.Background(), "fail")
	}
}

// storeRecorder feeds session iterations into the event stream so SSE
// consumers watch decisions accumulate live.
type storeRecorder struct {
	store     Store
	obs       *Observability
	sessionID string
}

func (r *storeRecorder) RecordIteration(rec session.IterationRecord) error {
	_, err := r.store.AppendSessionEvent(r.sessionID, "iteration", rec.Probe.Type, map[string]any{
		"iteration":           rec.Iteration,
		"probe":               rec.Probe.Type,
		"kl_score":            rec.Probe.KLScore,
		"anomaly_score":       rec.Response.AnomalyScore,
		"is_anomaly":          rec.Response.IsAnomaly,
		"llr":                 rec.SPRT.LLR,
		"cumulative_log_odds": rec.SPRT.CumulativeLogOdds,
		"decision":            rec.SPRT.Decision,
	})
	if rec.Response.IsAnomaly && r.obs != nil {
		r.obs.MarkAnomaly(context.Background(), rec.Probe.Type)
	}
	return err
}

func (r *storeRecorder) RecordSummary(s session.Summary) error {
	_, err := r.store.AppendSessionEvent(r.sessionID, "summary", s.Outcome, map[string]any{
		"outcome":        s.Outcome,
		"steps":          s.Steps,
		"final_log_odds": s.FinalLogOdds,
		"baseline_mean":  s.BaselineMean,
		"baseline_std":   s.BaselineStdev,
	})
	return err
}

// normalizeSessionRequest fills zero fields with simulation-friendly
// defaults. Simulated sessions run compressed timings; the full SDR
// cadence only matters on real hardware.
func normalizeSessionRequest(request *SessionRequest, cfg ServerConfig) {
	// Zero means unset; explicitly negative error rates stay put so
	// validation rejects them.
	if request.Alpha == 0 {
		request.Alpha = 0.01
	}
	if request.Beta == 0 {
		request.Beta = 0.01
	}
	if request.MaxIterations <= 0 {
		request.MaxIterations = 50
	}
	if request.ProbeDurationSec <= 0 {
		request.ProbeDurationSec = 0.05
	}
	if request.ListenDurationSec <= 0 {
		request.ListenDurationSec = 0.1
	}
	if request.InterProbeDelaySec < 0 {
		request.InterProbeDelaySec = 0
	}
	if request.CarrierFreqHz <= 0 {
		request.CarrierFreqHz = 433.92e6
	}
	if request.SampleRate <= 0 {
		request.SampleRate = 48000
	}
	if request.AnomalyThresholdSigma <= 0 {
		request.AnomalyThresholdSigma = 3.0
	}
	if request.BaselineSampleCount < 2 {
		request.BaselineSampleCount = 5
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = cfg.Airtime.DefaultTimeoutSec
	}
}

func sessionConfigFromRequest(request SessionRequest) session.Config {
	return session.Config{
		SPRTAlpha:             request.Alpha,
		SPRTBeta:              request.Beta,
		MaxIterations:         request.MaxIterations,
		ProbeDuration:         request.ProbeDurationSec,
		ListenDuration:        request.ListenDurationSec,
		InterProbeDelay:       request.InterProbeDelaySec,
		CarrierFreq:           request.CarrierFreqHz,
		SampleRate:            request.SampleRate,
		AnomalyThresholdSigma: request.AnomalyThresholdSigma,
		BaselineSampleCount:   request.BaselineSampleCount,
		ProbeLibrarySeed:      request.Seed,
	}
}

func scenarioToSessionRequest(input QuickTestRequest, cfg ServerConfig) (SessionRequest, error) {
	scenario := strings.ToLower(strings.TrimSpace(input.ScenarioID))
	base := SessionRequest{
		Seed:       input.Seed,
		TimeoutSec: cfg.Airtime.DefaultTimeoutSec,
	}
	switch scenario {
	case "noise-floor-check":
		// Quiet channel: the session should settle on h0 quickly.
		base.MaxIterations = 30
	case "adaptive-responder-demo":
		base.Adaptive = true
		base.ResponderGain = 0.8
		base.MaxIterations = 30
	case "weak-responder":
		base.Adaptive = true
		base.ResponderGain = 0.1
		base.NoisePower = 0.1
		base.MaxIterations = 60
	default:
		return SessionRequest{}, errors.New("unsupported scenario_id")
	}
	normalizeSessionRequest(&base, cfg)
	return base, nil
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		rpm = 6
	}
	return &ipRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	items := l.records[key]
	items = filterRecentTime(items, cutoff)
	if len(items) >= l.rpm {
		l.records[key] = items
		return false
	}
	items = append(items, now)
	l.records[key] = items
	return true
}

func filterRecentTime(items []time.Time, cutoff time.Time) []time.Time {
	if len(items) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if item.After(cutoff) {
			out = append(out, item)
		}
	}
	return out
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}
