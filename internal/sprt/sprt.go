// Package sprt implements Wald's Sequential Probability Ratio Test over
// a stream of log-likelihood ratio increments. The engine is pure state
// plus arithmetic: it knows nothing about probes, RF or I/O so it can be
// exercised against synthetic LLR sequences.
package sprt

import (
	"errors"
	"fmt"
	"math"
)

// Decision is the test outcome for a session.
type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionH0      Decision = "h0"
	DecisionH1      Decision = "h1"
)

// ErrTerminalState is returned when Update is called after the test has
// already decided. That is a caller bug: terminal states are final.
var ErrTerminalState = errors.New("sprt: update on terminal state")

// Test holds the Wald decision thresholds for a given error-rate pair.
type Test struct {
	alpha float64
	beta  float64
	upper float64 // A = ln((1-beta)/alpha), crossing decides H1
	lower float64 // B = ln(beta/(1-alpha)), crossing decides H0
}

// New validates alpha and beta (both strictly inside (0,1)) and derives
// the Wald thresholds.
func New(alpha, beta float64) (*Test, error) {
	if alpha <= 0 || alpha >= 1 {
		return nil, fmt.Errorf("sprt: alpha must be in (0,1), got %v", alpha)
	}
	if beta <= 0 || beta >= 1 {
		return nil, fmt.Errorf("sprt: beta must be in (0,1), got %v", beta)
	}
	return &Test{
		alpha: alpha,
		beta:  beta,
		upper: math.Log((1 - beta) / alpha),
		lower: math.Log(beta / (1 - alpha)),
	}, nil
}

func (t *Test) UpperBound() float64 { return t.upper }
func (t *Test) LowerBound() float64 { return t.lower }

// State accumulates evidence for one session. One instance per session;
// the owning loop must not share it across goroutines.
type State struct {
	CumulativeLogOdds float64
	Steps             int
	Decision          Decision
	History           []float64
}

func (t *Test) NewState() *State {
	return &State{Decision: DecisionPending}
}

// Update folds one LLR increment into the state and applies the
// two-threshold rule. Calling it on a terminal state is an error and
// leaves the state untouched.
func (t *Test) Update(s *State, llr float64) error {
	if s.Decision != DecisionPending {
		return ErrTerminalState
	}
	s.CumulativeLogOdds += llr
	s.History = append(s.History, llr)
	s.Steps++
	switch {
	case s.CumulativeLogOdds >= t.upper:
		s.Decision = DecisionH1
	case s.CumulativeLogOdds <= t.lower:
		s.Decision = DecisionH0
	}
	return nil
}

// Decided reports whether the state reached a terminal decision. A
// session that exhausts its iteration budget while pending is undecided,
// which the driver reports as its own outcome, never as H0.
func (s *State) Decided() bool {
	return s.Decision != DecisionPending
}
