package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) CreateSession(meta SessionMeta) error {
	req, _ := json.Marshal(meta.Request)
	airtime, _ := json.Marshal(meta.Airtime)
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO discovery_sessions (session_id,status,creator_type,creator_sub,creator_email,source,request,created_at,airtime)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		meta.SessionID, meta.Status, meta.CreatorType, meta.CreatorSub, meta.CreatorEmail,
		meta.Source, req, meta.CreatedAt, airtime)
	return err
}

func (s *PgStore) UpdateSession(sessionID string, mutate func(*SessionMeta)) (SessionMeta, error) {
	tx, err := s.pool.Begin(context.Background())
	if err != nil {
		return SessionMeta{}, err
	}
	defer tx.Rollback(context.Background())

	row := tx.QueryRow(context.Background(),
		`SELECT session_id,status,creator_type,creator_sub,creator_email,source,request,
		        started_at,finished_at,created_at,error,decision,airtime
		 FROM discovery_sessions WHERE session_id=$1 FOR UPDATE`, sessionID)
	meta, err := scanSessionMeta(row)
	if err != nil {
		return SessionMeta{}, fmt.Errorf("session not found: %s", sessionID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	req, _ := json.Marshal(meta.Request)
	airtime, _ := json.Marshal(meta.Airtime)
	var decisionJSON []byte
	if meta.Decision != nil {
		decisionJSON, _ = json.Marshal(meta.Decision)
	}
	_, err = tx.Exec(context.Background(),
		`UPDATE discovery_sessions SET status=$1,started_at=$2,finished_at=$3,error=$4,
		 decision=$5,airtime=$6,request=$7 WHERE session_id=$8`,
		meta.Status, nullStr(meta.StartedAt), nullStr(meta.FinishedAt), meta.Error,
		decisionJSON, airtime, req, sessionID)
	if err != nil {
		return SessionMeta{}, err
	}
	return meta, tx.Commit(context.Background())
}

func (s *PgStore) GetSession(sessionID string) (SessionMeta, bool) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT session_id,status,creator_type,creator_sub,creator_email,source,request,
		        started_at,finished_at,created_at,error,decision,airtime
		 FROM discovery_sessions WHERE session_id=$1`, sessionID)
	meta, err := scanSessionMeta(row)
	if err != nil {
		return SessionMeta{}, false
	}
	return meta, true
}

func (s *PgStore) ListSessions(limit int) []SessionMeta {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT session_id,status,creator_type,creator_sub,creator_email,source,request,
		        started_at,finished_at,created_at,error,decision,airtime
		 FROM discovery_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []SessionMeta
	for rows.Next() {
		meta, err := scanSessionMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	if out == nil {
		return []SessionMeta{}
	}
	return out
}

func (s *PgStore) ListSessionsByCreator(creatorSub string, limit int) []SessionMeta {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT session_id,status,creator_type,creator_sub,creator_email,source,request,
		        started_at,finished_at,created_at,error,decision,airtime
		 FROM discovery_sessions WHERE creator_sub=$1 ORDER BY created_at DESC LIMIT $2`, creatorSub, limit)
	if err != nil {
		return []SessionMeta{}
	}
	defer rows.Close()
	var out []SessionMeta
	for rows.Next() {
		meta, err := scanSessionMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	if out == nil {
		return []SessionMeta{}
	}
	return out
}

func (s *PgStore) AppendSessionEvent(sessionID string, stage, message string, data map[string]any) (SessionEvent, error) {
	var dataJSON []byte
	if data != nil {
		dataJSON, _ = json.Marshal(data)
	}
	var seq int64
	var ts time.Time
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO session_events (session_id, seq, stage, message, data)
		 VALUES ($1, COALESCE((SELECT MAX(seq) FROM session_events WHERE session_id=$1),0)+1, $2, $3, $4)
		 RETURNING seq, timestamp`, sessionID, stage, message, dataJSON).Scan(&seq, &ts)
	if err != nil {
		return SessionEvent{}, err
	}
	return SessionEvent{
		Seq:       seq,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Stage:     stage,
		Message:   message,
		Data:      data,
	}, nil
}

func (s *PgStore) ListSessionEvents(sessionID string, sinceSeq int64) []SessionEvent {
	rows, err := s.pool.Query(context.Background(),
		`SELECT seq, timestamp, stage, message, data
		 FROM session_events WHERE session_id=$1 AND seq>$2 ORDER BY seq`, sessionID, sinceSeq)
	if err != nil {
		return []SessionEvent{}
	}
	defer rows.Close()
	var out []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var ts time.Time
		var dataJSON []byte
		if err := rows.Scan(&e.Seq, &ts, &e.Stage, &e.Message, &dataJSON); err != nil {
			continue
		}
		e.Timestamp = ts.UTC().Format(time.RFC3339)
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &e.Data)
		}
		out = append(out, e)
	}
	if out == nil {
		return []SessionEvent{}
	}
	return out
}

func (s *PgStore) AppendAudit(event AuditEvent) error {
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO audit_events (timestamp,session_id,actor_type,actor_sub,action,result,ip_hash,ua_hash,detail)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.Timestamp, nullStr(event.SessionID), event.ActorType, nullStr(event.ActorSub),
		event.Action, event.Result, nullStr(event.IPHash), nullStr(event.UAHash), nullStr(event.Detail))
	return err
}

func (s *PgStore) ListAudit(limit int) []AuditEvent {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT timestamp,session_id,actor_type,actor_sub,action,result,ip_hash,ua_hash,detail
		 FROM audit_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return []AuditEvent{}
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var a AuditEvent
		var ts time.Time
		var sessionID, actorSub, ipHash, uaHash, detail *string
		if err := rows.Scan(&ts, &sessionID, &a.ActorType, &actorSub, &a.Action, &a.Result, &ipHash, &uaHash, &detail); err != nil {
			continue
		}
		a.Timestamp = ts.UTC().Format(time.RFC3339)
		a.SessionID = deref(sessionID)
		a.ActorSub = deref(actorSub)
		a.IPHash = deref(ipHash)
		a.UAHash = deref(uaHash)
		a.Detail = deref(detail)
		out = append(out, a)
	}
	if out == nil {
		return []AuditEvent{}
	}
	return out
}

func (s *PgStore) GetMetricsOverview() MetricsOverview {
	overview := MetricsOverview{GeneratedAt: nowRFC3339()}
	_ = s.pool.QueryRow(context.Background(),
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('running','queued')),
			COUNT(*) FILTER (WHERE status='h0'),
			COUNT(*) FILTER (WHERE status='h1'),
			COUNT(*) FILTER (WHERE status='undecided'),
			COUNT(*) FILTER (WHERE status='fail'),
			COALESCE(AVG((decision->>'steps')::float) FILTER (WHERE decision IS NOT NULL), 0),
			COALESCE(SUM((airtime->>'consumed_seconds')::float), 0)
		 FROM discovery_sessions`).Scan(
		&overview.TotalSessions, &overview.RunningSessions, &overview.H0Sessions,
		&overview.H1Sessions, &overview.UndecidedSessions, &overview.FailedSessions,
		&overview.AverageSteps, &overview.AirtimeSeconds)
	return overview
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSessionMeta(row scannable) (SessionMeta, error) {
	var m SessionMeta
	var reqJSON, airtimeJSON []byte
	var decisionJSON []byte
	var startedAt, finishedAt, creatorSub, creatorEmail, source, errStr *string
	err := row.Scan(&m.SessionID, &m.Status, &m.CreatorType, &creatorSub, &creatorEmail,
		&source, &reqJSON, &startedAt, &finishedAt, &m.CreatedAt,
		&errStr, &decisionJSON, &airtimeJSON)
	if err != nil {
		return SessionMeta{}, err
	}
	m.CreatorSub = deref(creatorSub)
	m.CreatorEmail = deref(creatorEmail)
	m.Source = deref(source)
	m.StartedAt = deref(startedAt)
	m.FinishedAt = deref(finishedAt)
	m.Error = deref(errStr)
	_ = json.Unmarshal(reqJSON, &m.Request)
	_ = json.Unmarshal(airtimeJSON, &m.Airtime)
	if len(decisionJSON) > 0 {
		var d DecisionSnapshot
		if json.Unmarshal(decisionJSON, &d) == nil {
			m.Decision = &d
		}
	}
	return m, nil
}

func nullStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Ensure PgStore implements Store at compile time.
var _ Store = (*PgStore)(nil)
