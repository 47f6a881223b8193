// Package inference discovers implicit relationships between nodes from
// shared attribute (type, value) pairs and materializes them as auto-managed
// edges.
package inference

import (
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/lattice/internal/config"
	"github.com/lazypower/lattice/internal/confidence"
	"github.com/lazypower/lattice/internal/store"
)

// InferredRelType tags edges materialized by inference rather than authored
// explicitly.
const InferredRelType = "related_to"

// Engine runs attribute-overlap inference for single nodes. Candidate lookup
// goes through the store's (attr_type, attr_value) bucket index, so the work
// is proportional to the buckets the node touches, not to the total node
// count.
type Engine struct {
	db   *store.DB
	cfg  *config.Service
	conf *confidence.Materializer
}

// NewEngine returns an inference engine bound to the store and config.
func NewEngine(db *store.DB, cfg *config.Service, conf *confidence.Materializer) *Engine {
	return &Engine{db: db, cfg: cfg, conf: conf}
}

// Result summarizes one inference pass over a node.
type Result struct {
	NodeID     int64
	Candidates int
	Inferred   int // edges created or refreshed
	Skipped    int // candidates below the confidence threshold
}

// InferForNode finds nodes sharing attribute buckets with nodeID and upserts
// an auto-managed edge per qualifying candidate. Candidates whose computed
// confidence falls below the configured minimum produce no edge. Explicitly
// authored edges of the same triple are left untouched.
func (e *Engine) InferForNode(nodeID int64) (*Result, error) {
	cfg := e.cfg.Snapshot()
	now := time.Now()

	sourceAttrs, err := e.db.GetAttributes(nodeID)
	if err != nil {
		return nil, err
	}
	if len(sourceAttrs) == 0 {
		return nil, fmt.Errorf("%w: node %d has no attributes to infer from", confidence.ErrInsufficientData, nodeID)
	}

	candidates, err := e.db.SharedAttributeCandidates(nodeID, cfg.Engine.CandidateLimit)
	if err != nil && !errors.Is(err, store.ErrResourceExceeded) {
		return nil, err
	}
	// On ErrResourceExceeded the truncated candidate list is still processed;
	// the remainder surfaces on the next queue pass.

	sourceConf, err := confidence.NodeConfidence(sourceAttrs, cfg.Engine.MaxAgeDays, now)
	if err != nil {
		return nil, err
	}

	res := &Result{NodeID: nodeID, Candidates: len(candidates)}
	for _, candidateID := range candidates {
		targetAttrs, err := e.db.GetAttributes(candidateID)
		if err != nil {
			return res, err
		}
		if len(targetAttrs) == 0 {
			continue
		}

		targetConf, err := confidence.NodeConfidence(targetAttrs, cfg.Engine.MaxAgeDays, now)
		if err != nil {
			continue
		}

		sharedFactor, sharedCount := confidence.SharedAttributeFactor(sourceAttrs, targetAttrs, cfg.Engine.MaxAgeDays, now)
		if sharedCount == 0 {
			continue
		}

		strength := inferredStrength(sharedCount, len(sourceAttrs))
		reliability := sharedReliability(sourceAttrs)
		score := confidence.RelationshipConfidence(strength, reliability, sharedFactor, (sourceConf+targetConf)/2)
		if score < cfg.Engine.MinInferenceConfidence {
			res.Skipped++
			continue
		}

		rel := &store.Relationship{
			SourceID:              nodeID,
			TargetID:              candidateID,
			RelType:               InferredRelType,
			Strength:              strength,
			SourceReliability:     reliability,
			ConfidenceScore:       score,
			SharedAttributesCount: sharedCount,
		}
		written, err := e.db.UpsertInferredRelationship(rel)
		if err != nil {
			return res, fmt.Errorf("upsert inferred edge %d->%d: %w", nodeID, candidateID, err)
		}
		if written {
			res.Inferred++
		}
	}
	return res, nil
}

// EnqueueWithCascade enqueues the changed node at the configured write
// priority, then cascades to other nodes sharing its attribute buckets at a
// strictly lower priority, capped to the configured fan-out.
func (e *Engine) EnqueueWithCascade(nodeID int64, batchID string) (cascaded int, err error) {
	cfg := e.cfg.Snapshot()

	if _, err := e.db.Enqueue(nodeID, cfg.Engine.WritePriority, batchID, cfg.Engine.MaxRetries); err != nil {
		return 0, err
	}

	if cfg.Engine.CascadeFanout == 0 {
		return 0, nil
	}
	// Cascaded entries must sit strictly below the trigger. A trigger already
	// at the floor has nowhere lower to cascade to.
	if cfg.Engine.WritePriority <= store.MinPriority {
		return 0, nil
	}

	neighbors, err := e.db.SharedAttributeCandidates(nodeID, cfg.Engine.CascadeFanout)
	if err != nil && !errors.Is(err, store.ErrResourceExceeded) {
		return 0, err
	}

	cascadePriority := cfg.Engine.WritePriority - cfg.Engine.CascadePriorityDrop
	if cascadePriority < store.MinPriority {
		cascadePriority = store.MinPriority
	}

	for _, neighborID := range neighbors {
		if _, err := e.db.Enqueue(neighborID, cascadePriority, batchID, cfg.Engine.MaxRetries); err != nil {
			return cascaded, fmt.Errorf("cascade enqueue node %d: %w", neighborID, err)
		}
		cascaded++
	}
	return cascaded, nil
}

// inferredStrength grows with the share of the source's attributes that the
// candidate matches.
func inferredStrength(shared, sourceAttrCount int) float64 {
	if sourceAttrCount == 0 {
		return 0
	}
	s := float64(shared) / float64(sourceAttrCount)
	if s > 1 {
		return 1
	}
	return s
}

// sharedReliability averages source reliability across the node's attributes.
func sharedReliability(attrs []store.Attribute) float64 {
	if len(attrs) == 0 {
		return 0
	}
	var sum float64
	for _, a := range attrs {
		sum += a.SourceReliability
	}
	return sum / float64(len(attrs))
}
