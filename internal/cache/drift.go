package cache

import "math"

const driftHistorySize = 10

// driftHistory is a bounded deque of recent request contexts stored
// under one cache key, avoiding the cyclic-reference graph the original
// implementation kept (§9 design note — "arena-style bounded deque").
type driftHistory struct {
	contexts []RequestContext
}

func (h *driftHistory) push(rc RequestContext) {
	h.contexts = append(h.contexts, rc)
	if len(h.contexts) > driftHistorySize {
		h.contexts = h.contexts[len(h.contexts)-driftHistorySize:]
	}
}

// score computes the mean drift between the stored context history and a
// fresh request context: numeric fields use |a-b|/max(|a|,|b|,1);
// the categorical intent field scores 1 on mismatch (§4.7).
func (h *driftHistory) score(current RequestContext) float64 {
	if len(h.contexts) == 0 {
		return 0
	}

	var total float64
	for _, stored := range h.contexts {
		total += contextDrift(stored, current)
	}
	return total / float64(len(h.contexts))
}

func contextDrift(a, b RequestContext) float64 {
	diffs := []float64{
		numericDrift(a.Domain, b.Domain),
		numericDrift(a.ComplexityTier, b.ComplexityTier),
		categoricalDrift(a.Intent, b.Intent),
	}
	var sum float64
	for _, d := range diffs {
		sum += d
	}
	return sum / float64(len(diffs))
}

func numericDrift(a, b float64) float64 {
	denom := math.Max(math.Max(math.Abs(a), math.Abs(b)), 1)
	return math.Abs(a-b) / denom
}

func categoricalDrift(a, b string) float64 {
	if a == b {
		return 0
	}
	return 1
}
