package server

import (
	"errors"
	"sync"
	"time"
)

// AirtimeLease is a reservation of transmit seconds against the daily
// on-air budget. The session commits actual usage when it finishes or
// rejects the lease if it never got on the air.
type AirtimeLease struct {
	ReservedSeconds float64
	granted         bool
}

// AirtimeManager guards the shared radio: one daily pool of transmit
// seconds, reset at UTC midnight. Even simulated sessions go through
// it so the accounting path stays exercised.
type AirtimeManager struct {
	mu             sync.Mutex
	dailyLimit     float64
	dayKey         string
	consumed       float64
	reserved       float64
	activeSessions int
	maxParallel    int
}

func NewAirtimeManager(cfg ServerConfig) *AirtimeManager {
	return &AirtimeManager{
		dailyLimit:  cfg.Airtime.DailyLimitSeconds,
		maxParallel: cfg.Airtime.MaxParallelSessions,
	}
}

var (
	ErrAirtimeExhausted = errors.New("daily airtime budget exhausted")
	ErrTooManySessions  = errors.New("too many parallel sessions")
)

// Acquire reserves the estimated transmit seconds for a session.
func (m *AirtimeManager) Acquire(estimatedSeconds float64) (AirtimeLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay(time.Now())
	if m.maxParallel > 0 && m.activeSessions >= m.maxParallel {
		return AirtimeLease{}, ErrTooManySessions
	}
	if estimatedSeconds < 0 {
		estimatedSeconds = 0
	}
	if m.consumed+m.reserved+estimatedSeconds > m.dailyLimit {
		return AirtimeLease{}, ErrAirtimeExhausted
	}
	m.reserved += estimatedSeconds
	m.activeSessions++
	return AirtimeLease{ReservedSeconds: estimatedSeconds, granted: true}, nil
}

// Commit releases the reservation and charges the seconds actually
// spent on the air.
func (m *AirtimeManager) Commit(lease AirtimeLease, actualSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !lease.granted {
		return
	}
	m.rollDay(time.Now())
	m.reserved -= lease.ReservedSeconds
	if m.reserved < 0 {
		m.reserved = 0
	}
	if actualSeconds > 0 {
		m.consumed += actualSeconds
	}
	if m.activeSessions > 0 {
		m.activeSessions--
	}
}

// Reject releases a reservation without charging anything.
func (m *AirtimeManager) Reject(lease AirtimeLease) {
	m.Commit(lease, 0)
}

// RemainingSeconds reports the uncommitted budget for today.
func (m *AirtimeManager) RemainingSeconds() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay(time.Now())
	remaining := m.dailyLimit - m.consumed - m.reserved
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *AirtimeManager) rollDay(now time.Time) {
	dayKey := now.UTC().Format("2006-01-02")
	if m.dayKey != dayKey {
		m.dayKey = dayKey
		m.consumed = 0
	}
}
