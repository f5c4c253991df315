package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type Store interface {
	CreateSession(meta SessionMeta) error
	UpdateSession(sessionID string, mutate func(*SessionMeta)) (SessionMeta, error)
	GetSession(sessionID string) (SessionMeta, bool)
	ListSessions(limit int) []SessionMeta
	ListSessionsByCreator(creatorSub string, limit int) []SessionMeta
	AppendSessionEvent(sessionID string, stage, message string, data map[string]any) (SessionEvent, error)
	ListSessionEvents(sessionID string, sinceSeq int64) []SessionEvent
	AppendAudit(event AuditEvent) error
	ListAudit(limit int) []AuditEvent
	GetMetricsOverview() MetricsOverview
}

// MemoryFileStore keeps everything in memory and optionally persists a
// JSON snapshot after every mutation. An empty path keeps it purely
// in-memory, which is what the tests use.
type MemoryFileStore struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]SessionMeta
	events   map[string][]SessionEvent
	audit    []AuditEvent
	nextSeq  map[string]int64
}

func NewMemoryFileStore(path string) (*MemoryFileStore, error) {
	store := &MemoryFileStore{
		path:     path,
		sessions: map[string]SessionMeta{},
		events:   map[string][]SessionEvent{},
		audit:    []AuditEvent{},
		nextSeq:  map[string]int64{},
	}
	if strings.TrimSpace(path) == "" {
		return store, nil
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MemoryFileStore) CreateSession(meta SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[meta.SessionID]; exists {
		return fmt.Errorf("session %s already exists", meta.SessionID)
	}
	s.sessions[meta.SessionID] = meta
	if _, ok := s.events[meta.SessionID]; !ok {
		s.events[meta.SessionID] = []SessionEvent{}
	}
	if _, ok := s.nextSeq[meta.SessionID]; !ok {
		s.nextSeq[meta.SessionID] = 1
	}
	return s.persistLocked()
}

func (s *MemoryFileStore) UpdateSession(sessionID string, mutate func(*SessionMeta)) (SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.sessions[sessionID]
	if !ok {
		return SessionMeta{}, fmt.Errorf("session not found: %s", sessionID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	s.sessions[sessionID] = meta
	if err := s.persistLocked(); err != nil {
		return SessionMeta{}, err
	}
	return meta, nil
}

func (s *MemoryFileStore) GetSession(sessionID string) (SessionMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.sessions[sessionID]
	return meta, ok
}

func (s *MemoryFileStore) ListSessions(limit int) []SessionMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionMeta, 0, len(s.sessions))
	for _, meta := range s.sessions {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) ListSessionsByCreator(creatorSub string, limit int) []SessionMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionMeta, 0)
	for _, meta := range s.sessions {
		if meta.CreatorSub == creatorSub {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) AppendSessionEvent(sessionID string, stage, message string, data map[string]any) (SessionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return SessionEvent{}, fmt.Errorf("session not found: %s", sessionID)
	}
	seq := s.nextSeq[sessionID]
	if seq < 1 {
		seq = 1
	}
	event := SessionEvent{
		Seq:       seq,
		Timestamp: nowRFC3339(),
		Stage:     stage,
		Message:   message,
		Data:      cloneMap(data),
	}
	s.nextSeq[sessionID] = seq + 1
	s.events[sessionID] = append(s.events[sessionID], event)
	if err := s.persistLocked(); err != nil {
		return SessionEvent{}, err
	}
	return event, nil
}

func (s *MemoryFileStore) ListSessionEvents(sessionID string, sinceSeq int64) []SessionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[sessionID]
	if len(events) == 0 {
		return []SessionEvent{}
	}
	out := make([]SessionEvent, 0, len(events))
	for _, event := range events {
		if event.Seq > sinceSeq {
			out = append(out, event)
		}
	}
	return out
}

func (s *MemoryFileStore) AppendAudit(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	s.audit = append(s.audit, event)
	if len(s.audit) > 5000 {
		s.audit = s.audit[len(s.audit)-5000:]
	}
	return s.persistLocked()
}

func (s *MemoryFileStore) ListAudit(limit int) []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return []AuditEvent{}
	}
	out := make([]AuditEvent, len(s.audit))
	copy(out, s.audit)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) GetMetricsOverview() MetricsOverview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overview := MetricsOverview{
		GeneratedAt: nowRFC3339(),
	}
	stepsTotal := 0
	decided := 0
	for _, sess := range s.sessions {
		overview.TotalSessions++
		switch strings.ToLower(strings.TrimSpace(sess.Status)) {
		case "running", "queued":
			overview.RunningSessions++
		case "h0":
			overview.H0Sessions++
		case "h1":
			overview.H1Sessions++
		case "undecided":
			overview.UndecidedSessions++
		case "fail":
			overview.FailedSessions++
		}
		overview.AirtimeSeconds += sess.Airtime.ConsumedSeconds
		if sess.Decision != nil {
			stepsTotal += sess.Decision.Steps
			decided++
		}
	}
	if decided > 0 {
		overview.AverageSteps = float64(stepsTotal) / float64(decided)
	}
	return overview
}

func (s *MemoryFileStore) load() error {
	data, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store snapshot: %w", err)
	}
	var snapshot struct {
		Sessions []SessionMeta             `json:"sessions"`
		Events   map[string][]SessionEvent `json:"events"`
		Audit    []AuditEvent              `json:"audit"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode store snapshot: %w", err)
	}
	for _, sess := range snapshot.Sessions {
		s.sessions[sess.SessionID] = sess
	}
	for sessionID, events := range snapshot.Events {
		s.events[sessionID] = events
		maxSeq := int64(0)
		for _, event := range events {
			if event.Seq > maxSeq {
				maxSeq = event.Seq
			}
		}
		s.nextSeq[sessionID] = maxSeq + 1
	}
	s.audit = snapshot.Audit
	return nil
}

func (s *MemoryFileStore) persistLocked() error {
	if strings.TrimSpace(s.path) == "" {
		return nil
	}
	sessions := make([]SessionMeta, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt < sessions[j].CreatedAt
	})
	snapshot := struct {
		Sessions []SessionMeta             `json:"sessions"`
		Events   map[string][]SessionEvent `json:"events"`
		Audit    []AuditEvent              `json:"audit"`
	}{
		Sessions: sessions,
		Events:   s.events,
		Audit:    s.audit,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write store temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace store snapshot: %w", err)
	}
	return nil
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
