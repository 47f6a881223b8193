// Package confidence computes and materializes confidence scores for nodes,
// attributes, and relationships. The scoring functions are pure; Materializer
// persists their results so reads never recompute inline.
package confidence

import (
	"fmt"
	"math"
	"time"

	"github.com/lazypower/lattice/internal/store"
)

// ErrInsufficientData is returned when a score cannot be computed, e.g. a
// node with zero attributes. Callers must not substitute a default.
var ErrInsufficientData = store.ErrInsufficientData

const millisPerDay = 24 * 60 * 60 * 1000

// AttributeConfidence scores a single attribute:
//
//	min(1, weight * source_reliability * exp(-age_days / max_age_days))
//
// Recency decays exponentially with age since last verification. The result
// shrinks toward zero but never turns negative.
func AttributeConfidence(weight, sourceReliability float64, lastVerified int64, maxAgeDays float64, now time.Time) float64 {
	ageDays := float64(now.UnixMilli()-lastVerified) / millisPerDay
	if ageDays < 0 {
		ageDays = 0
	}
	score := weight * sourceReliability * math.Exp(-ageDays/maxAgeDays)
	return clamp(score)
}

// NodeConfidence averages AttributeConfidence over all attributes of a node.
// A node with zero attributes has no average; that is a hard failure, not a
// silent default.
func NodeConfidence(attrs []store.Attribute, maxAgeDays float64, now time.Time) (float64, error) {
	if len(attrs) == 0 {
		return 0, fmt.Errorf("%w: node has no attributes", ErrInsufficientData)
	}
	var sum float64
	for _, a := range attrs {
		sum += AttributeConfidence(a.Weight, a.SourceReliability, a.LastVerified, maxAgeDays, now)
	}
	return clamp(sum / float64(len(attrs))), nil
}

// SharedAttributeFactor averages, over every (type, value) pair common to
// both attribute sets, the product of each side's attribute confidence. When
// the nodes share nothing it defaults to 0.5: an edge with no evidentiary
// overlap is penalized, not rejected.
func SharedAttributeFactor(source, target []store.Attribute, maxAgeDays float64, now time.Time) (factor float64, shared int) {
	type bucket struct{ attrType, value string }

	targetScores := make(map[bucket]float64, len(target))
	for _, a := range target {
		b := bucket{a.AttrType, a.Value}
		score := AttributeConfidence(a.Weight, a.SourceReliability, a.LastVerified, maxAgeDays, now)
		if score > targetScores[b] {
			targetScores[b] = score
		}
	}

	var sum float64
	seen := make(map[bucket]bool)
	for _, a := range source {
		b := bucket{a.AttrType, a.Value}
		targetScore, ok := targetScores[b]
		if !ok || seen[b] {
			continue
		}
		seen[b] = true
		sum += AttributeConfidence(a.Weight, a.SourceReliability, a.LastVerified, maxAgeDays, now) * targetScore
		shared++
	}

	if shared == 0 {
		return 0.5, 0
	}
	return sum / float64(shared), shared
}

// RelationshipConfidence scores an edge:
//
//	min(1, strength * source_reliability * shared_factor * avg_node_confidence)
//
// where shared_factor comes from SharedAttributeFactor and avgNodeConfidence
// is the mean of both endpoints' node confidence.
func RelationshipConfidence(strength, sourceReliability, sharedFactor, avgNodeConfidence float64) float64 {
	return clamp(strength * sourceReliability * sharedFactor * avgNodeConfidence)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
