package session

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"rf-discovery/internal/analysis"
	"rf-discovery/internal/sprt"
)

// ProbeRecord is the probe portion of an iteration record.
type ProbeRecord struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	KLScore     float64 `json:"kl_score"`
}

// ResponseRecord is the analyzer output for one iteration. Non-finite
// values (an empty-spectrum SNR is -Inf) marshal as null rather than
// breaking the JSON encoder.
type ResponseRecord struct {
	PowerMean    float64  `json:"power_mean"`
	PowerStd     float64  `json:"power_std"`
	SNRdB        *float64 `json:"snr_db"`
	AnomalyScore float64  `json:"anomaly_score"`
	Correlation  float64  `json:"correlation"`
	PeakFreq     *float64 `json:"peak_freq"`
	PeakPower    float64  `json:"peak_power"`
	IsAnomaly    bool     `json:"is_anomaly"`
}

// SPRTRecord is the test state after folding in this iteration's LLR.
type SPRTRecord struct {
	LLR               float64 `json:"llr"`
	CumulativeLogOdds float64 `json:"cumulative_log_odds"`
	Decision          string  `json:"decision"`
	Steps             int     `json:"steps"`
}

// IterationRecord is one line of the session's JSONL log.
type IterationRecord struct {
	SessionID string         `json:"session_id"`
	Iteration int            `json:"iteration"`
	Timestamp string         `json:"timestamp"`
	Probe     ProbeRecord    `json:"probe"`
	Response  ResponseRecord `json:"response"`
	SPRT      SPRTRecord     `json:"sprt"`
}

// Summary is the end-of-session report.
type Summary struct {
	SessionID     string         `json:"session_id"`
	StartedAt     string         `json:"started_at"`
	FinishedAt    string         `json:"finished_at"`
	Outcome       string         `json:"outcome"`
	Steps         int            `json:"steps"`
	FinalLogOdds  float64        `json:"final_log_odds"`
	ProbesUsed    map[string]int `json:"probes_used"`
	BaselineMean  float64        `json:"baseline_mean"`
	BaselineStdev float64        `json:"baseline_std"`
}

// Recorder receives the session's observable output. Implementations
// must tolerate being called from a single goroutine only.
type Recorder interface {
	RecordIteration(rec IterationRecord) error
	RecordSummary(s Summary) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordIteration(IterationRecord) error { return nil }
func (NopRecorder) RecordSummary(Summary) error           { return nil }

// JSONLRecorder appends iteration records to
// <dir>/<session>_iterations.jsonl and writes the summary to
// <dir>/<session>_summary.json.
type JSONLRecorder struct {
	dir       string
	sessionID string
	f         *os.File
}

func NewJSONLRecorder(dir, sessionID string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+"_iterations.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open iteration log: %w", err)
	}
	return &JSONLRecorder{dir: dir, sessionID: sessionID, f: f}, nil
}

func (r *JSONLRecorder) RecordIteration(rec IterationRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal iteration: %w", err)
	}
	if _, err := r.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append iteration: %w", err)
	}
	return nil
}

func (r *JSONLRecorder) RecordSummary(s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(r.dir, r.sessionID+"_summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func (r *JSONLRecorder) Close() error {
	return r.f.Close()
}

// responseRecord converts analyzer metrics to their wire form.
func responseRecord(m analysis.Metrics) ResponseRecord {
	return ResponseRecord{
		PowerMean:    m.PowerMean,
		PowerStd:     m.PowerStd,
		SNRdB:        finiteOrNil(m.SNRdB),
		AnomalyScore: m.AnomalyScore,
		Correlation:  m.Correlation,
		PeakFreq:     m.PeakFreq,
		PeakPower:    m.PeakPower,
		IsAnomaly:    m.IsAnomaly,
	}
}

func sprtRecord(llr float64, s *sprt.State) SPRTRecord {
	return SPRTRecord{
		LLR:               llr,
		CumulativeLogOdds: s.CumulativeLogOdds,
		Decision:          string(s.Decision),
		Steps:             s.Steps,
	}
}

func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
