package server

import "time"

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// SessionRequest configures one simulated discovery session. Zero
// values fall back to server defaults when the session is created.
type SessionRequest struct {
	Alpha                 float64 `json:"sprt_alpha,omitempty"`
	Beta                  float64 `json:"sprt_beta,omitempty"`
	MaxIterations         int     `json:"max_iterations,omitempty"`
	ProbeDurationSec      float64 `json:"probe_duration_sec,omitempty"`
	ListenDurationSec     float64 `json:"listen_duration_sec,omitempty"`
	InterProbeDelaySec    float64 `json:"inter_probe_delay_sec,omitempty"`
	CarrierFreqHz         float64 `json:"carrier_freq_hz,omitempty"`
	SampleRate            int     `json:"sample_rate,omitempty"`
	AnomalyThresholdSigma float64 `json:"anomaly_threshold_sigma,omitempty"`
	BaselineSampleCount   int     `json:"baseline_sample_count,omitempty"`
	Seed                  int64   `json:"seed,omitempty"`
	Adaptive              bool    `json:"adaptive,omitempty"`
	ResponderGain         float64 `json:"responder_gain,omitempty"`
	NoisePower            float64 `json:"noise_power,omitempty"`
	TimeoutSec            int     `json:"timeout_sec,omitempty"`
}

type QuickTestRequest struct {
	ScenarioID string `json:"scenario_id"`
	Seed       int64  `json:"seed,omitempty"`
}

type SessionMeta struct {
	SessionID    string            `json:"session_id"`
	Status       string            `json:"status"`
	CreatorType  string            `json:"creator_type"`
	CreatorSub   string            `json:"creator_sub,omitempty"`
	CreatorEmail string            `json:"creator_email,omitempty"`
	Source       string            `json:"source"`
	Request      SessionRequest    `json:"request"`
	StartedAt    string            `json:"started_at,omitempty"`
	FinishedAt   string            `json:"finished_at,omitempty"`
	CreatedAt    string            `json:"created_at"`
	Error        string            `json:"error,omitempty"`
	Decision     *DecisionSnapshot `json:"decision,omitempty"`
	Airtime      AirtimeRecord     `json:"airtime"`
}

// DecisionSnapshot is the sequential-test verdict persisted with the
// session.
type DecisionSnapshot struct {
	Outcome      string         `json:"outcome"`
	Steps        int            `json:"steps"`
	FinalLogOdds float64        `json:"final_log_odds"`
	BaselineMean float64        `json:"baseline_mean"`
	BaselineStd  float64        `json:"baseline_std"`
	ProbesUsed   map[string]int `json:"probes_used,omitempty"`
}

// AirtimeRecord accounts for transmit time a session reserved against
// the daily on-air budget.
type AirtimeRecord struct {
	SessionID       string  `json:"session_id"`
	ReservedSeconds float64 `json:"reserved_seconds"`
	ConsumedSeconds float64 `json:"consumed_seconds"`
	BlockedReason   string  `json:"blocked_reason,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type SessionEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt       string  `json:"generated_at"`
	TotalSessions     int     `json:"total_sessions"`
	RunningSessions   int     `json:"running_sessions"`
	H0Sessions        int     `json:"h0_sessions"`
	H1Sessions        int     `json:"h1_sessions"`
	UndecidedSessions int     `json:"undecided_sessions"`
	FailedSessions    int     `json:"failed_sessions"`
	AverageSteps      float64 `json:"average_steps"`
	AirtimeSeconds    float64 `json:"airtime_seconds_consumed"`
}

type StoreSnapshot struct {
	Sessions []SessionMeta  `json:"sessions"`
	Events   []SessionEvent `json:"events"`
	Audit    []AuditEvent   `json:"audit"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
