// Package policy chooses which probe to transmit next. Policies are
// pure functions of the catalog and the observation history, so a
// session can be replayed deterministically from its log.
package policy

import "rf-discovery/internal/probe"

// Observation is the per-iteration feedback a policy sees: which probe
// ran and how anomalous the response looked.
type Observation struct {
	Kind         probe.Kind
	AnomalyScore float64
}

// Policy selects the next probe. Select must not mutate its inputs and
// must be deterministic for a given (catalog, history) pair.
type Policy interface {
	Select(catalog []probe.Probe, history []Observation) probe.Probe
}

// KLOptimal balances exploration and exploitation: least-used probes go
// first, ties break on static KL score boosted by the mean magnitude of
// observed anomaly scores for that kind, then catalog order.
type KLOptimal struct {
	AnomalyWeight float64
}

func NewKLOptimal() *KLOptimal {
	return &KLOptimal{AnomalyWeight: 0.5}
}

var _ Policy = (*KLOptimal)(nil)

func (p *KLOptimal) Select(catalog []probe.Probe, history []Observation) probe.Probe {
	if len(catalog) == 0 {
		return probe.Probe{}
	}

	uses := make(map[probe.Kind]int, len(catalog))
	scoreSum := make(map[probe.Kind]float64, len(catalog))
	for _, obs := range history {
		uses[obs.Kind]++
		s := obs.AnomalyScore
		if s < 0 {
			s = -s
		}
		scoreSum[obs.Kind] += s
	}

	best := catalog[0]
	bestUses := uses[best.Kind]
	bestScore := p.effectiveScore(best, uses, scoreSum)
	for _, cand := range catalog[1:] {
		candUses := uses[cand.Kind]
		if candUses > bestUses {
			continue
		}
		candScore := p.effectiveScore(cand, uses, scoreSum)
		if candUses < bestUses || candScore > bestScore {
			best, bestUses, bestScore = cand, candUses, candScore
		}
	}
	return best
}

// effectiveScore is the probe's static KL score plus the weighted mean
// absolute anomaly score observed for its kind so far.
func (p *KLOptimal) effectiveScore(cand probe.Probe, uses map[probe.Kind]int, scoreSum map[probe.Kind]float64) float64 {
	score := cand.KLScore
	if n := uses[cand.Kind]; n > 0 {
		score += p.AnomalyWeight * scoreSum[cand.Kind] / float64(n)
	}
	return score
}
