package sprt

import (
	"errors"
	"math"
	"testing"
)

func TestNewValidatesRates(t *testing.T) {
	cases := []struct {
		alpha, beta float64
	}{
		{0, 0.01},
		{1, 0.01},
		{-0.1, 0.01},
		{0.01, 0},
		{0.01, 1},
		{0.01, 1.5},
	}
	for _, c := range cases {
		if _, err := New(c.alpha, c.beta); err == nil {
			t.Errorf("New(%v, %v): want error, got nil", c.alpha, c.beta)
		}
	}
	if _, err := New(0.01, 0.01); err != nil {
		t.Fatalf("New(0.01, 0.01): %v", err)
	}
}

func TestBoundsOrdering(t *testing.T) {
	test, err := New(0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if test.UpperBound() <= 0 {
		t.Errorf("upper bound = %v, want > 0", test.UpperBound())
	}
	if test.LowerBound() >= 0 {
		t.Errorf("lower bound = %v, want < 0", test.LowerBound())
	}
	wantUpper := math.Log(0.99 / 0.01)
	if math.Abs(test.UpperBound()-wantUpper) > 1e-12 {
		t.Errorf("upper bound = %v, want %v", test.UpperBound(), wantUpper)
	}
}

func TestPendingBetweenBounds(t *testing.T) {
	test, err := New(0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	s := test.NewState()
	for i := 0; i < 50; i++ {
		if err := test.Update(s, 0.01); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	if s.Decision != DecisionPending {
		t.Errorf("decision = %q, want pending", s.Decision)
	}
	if s.Steps != 50 {
		t.Errorf("steps = %d, want 50", s.Steps)
	}
	if len(s.History) != 50 {
		t.Errorf("history length = %d, want 50", len(s.History))
	}
	want := 0.5
	if math.Abs(s.CumulativeLogOdds-want) > 1e-9 {
		t.Errorf("cumulative log odds = %v, want %v", s.CumulativeLogOdds, want)
	}
}

func TestSingleUpdateDecidesH1(t *testing.T) {
	test, err := New(0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	s := test.NewState()
	if err := test.Update(s, test.UpperBound()+1); err != nil {
		t.Fatal(err)
	}
	if s.Decision != DecisionH1 {
		t.Errorf("decision = %q, want h1", s.Decision)
	}
	if !s.Decided() {
		t.Error("Decided() = false after crossing upper bound")
	}
}

func TestSingleUpdateDecidesH0(t *testing.T) {
	test, err := New(0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	s := test.NewState()
	if err := test.Update(s, test.LowerBound()-1); err != nil {
		t.Fatal(err)
	}
	if s.Decision != DecisionH0 {
		t.Errorf("decision = %q, want h0", s.Decision)
	}
}

func TestExactBoundDecides(t *testing.T) {
	test, err := New(0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	s := test.NewState()
	if err := test.Update(s, test.UpperBound()); err != nil {
		t.Fatal(err)
	}
	if s.Decision != DecisionH1 {
		t.Errorf("landing exactly on the upper bound: decision = %q, want h1", s.Decision)
	}
}

func TestUpdateOnTerminalStateFails(t *testing.T) {
	test, err := New(0.01, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	s := test.NewState()
	if err := test.Update(s, test.UpperBound()+1); err != nil {
		t.Fatal(err)
	}
	before := *s
	err = test.Update(s, 1.0)
	if !errors.Is(err, ErrTerminalState) {
		t.Fatalf("update after decision: err = %v, want ErrTerminalState", err)
	}
	if s.Steps != before.Steps || s.CumulativeLogOdds != before.CumulativeLogOdds {
		t.Error("terminal update mutated state")
	}
}

func TestAccumulationCrossesEventually(t *testing.T) {
	test, err := New(0.05, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	s := test.NewState()
	for i := 0; i < 1000 && !s.Decided(); i++ {
		if err := test.Update(s, -0.5); err != nil {
			t.Fatal(err)
		}
	}
	if s.Decision != DecisionH0 {
		t.Fatalf("decision = %q, want h0", s.Decision)
	}
	if s.CumulativeLogOdds > test.LowerBound() {
		t.Errorf("cumulative log odds %v above lower bound %v at decision", s.CumulativeLogOdds, test.LowerBound())
	}
}
