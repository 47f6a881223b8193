package vecindex

import "math"

// RecommendedPartitionCount returns round(sqrt(rowCount)) clamped to
// [minPartitions, maxPartitions]. Row counts under 100 map to the minimum;
// there is nothing to gain from partitioning a near-empty index.
func RecommendedPartitionCount(rowCount, minPartitions, maxPartitions int) int {
	if rowCount < 100 {
		return minPartitions
	}
	n := int(math.Round(math.Sqrt(float64(rowCount))))
	if n < minPartitions {
		return minPartitions
	}
	if n > maxPartitions {
		return maxPartitions
	}
	return n
}

// RetuneDecision classifies the gap between the current and recommended
// partition count using two-tier hysteresis. A delta past driftThreshold
// flags drift; only a delta past rebuildThreshold justifies the cost of a
// rebuild. This keeps small row-count fluctuations from churning the index.
type RetuneDecision int

const (
	// KeepPartitions means the current count is close enough.
	KeepPartitions RetuneDecision = iota
	// MarkDrifted means the count has drifted but not enough to rebuild.
	MarkDrifted
	// Rebuild means the gap justifies reclustering.
	Rebuild
)

// EvaluateRetune compares current against recommended and applies the
// hysteresis thresholds. A current count of zero (never built) always
// rebuilds.
func EvaluateRetune(current, recommended int, driftThreshold, rebuildThreshold float64) RetuneDecision {
	if current == 0 {
		return Rebuild
	}
	delta := math.Abs(float64(recommended-current)) / float64(current)
	switch {
	case delta > rebuildThreshold:
		return Rebuild
	case delta > driftThreshold:
		return MarkDrifted
	default:
		return KeepPartitions
	}
}

// MarkDrift records the drift flag from an EvaluateRetune decision.
func (ix *Index) MarkDrift() {
	ix.mu.Lock()
	ix.drifted = true
	ix.mu.Unlock()
}
