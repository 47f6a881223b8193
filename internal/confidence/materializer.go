package confidence

import (
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/lattice/internal/config"
	"github.com/lazypower/lattice/internal/store"
)

// Materializer recomputes and persists confidence scores. It is what the
// rest of the engine calls instead of recomputing confidence inline on reads.
type Materializer struct {
	db  *store.DB
	cfg *config.Service
}

// NewMaterializer returns a Materializer bound to the store and config.
func NewMaterializer(db *store.DB, cfg *config.Service) *Materializer {
	return &Materializer{db: db, cfg: cfg}
}

// ScorePair reports an old/new materialized score for one entity.
type ScorePair struct {
	ID  int64
	Old float64
	New float64
}

// UpdateNodeConfidence recomputes a node's score from its attributes and
// persists it with a fresh timestamp. Per-attribute scores are materialized
// alongside. Returns the previous and new scores.
func (m *Materializer) UpdateNodeConfidence(nodeID int64) (old, updated float64, err error) {
	cfg := m.cfg.Snapshot()
	now := time.Now()

	node, err := m.db.GetNode(nodeID)
	if err != nil {
		return 0, 0, err
	}
	old = node.ConfidenceScore

	attrs, err := m.db.GetAttributes(nodeID)
	if err != nil {
		return old, old, err
	}

	updated, err = NodeConfidence(attrs, cfg.Engine.MaxAgeDays, now)
	if err != nil {
		return old, old, fmt.Errorf("node %d: %w", nodeID, err)
	}

	for _, a := range attrs {
		score := AttributeConfidence(a.Weight, a.SourceReliability, a.LastVerified, cfg.Engine.MaxAgeDays, now)
		if err := m.db.SetAttributeConfidence(a.ID, score); err != nil {
			return old, old, err
		}
	}

	if err := m.db.SetNodeConfidence(nodeID, updated); err != nil {
		return old, old, err
	}
	return old, updated, nil
}

// UpdateRelationshipConfidence recomputes an edge's score from its strength,
// reliability, shared-attribute overlap, and endpoint confidence, and
// persists it with a fresh timestamp.
func (m *Materializer) UpdateRelationshipConfidence(relID int64) (old, updated float64, err error) {
	cfg := m.cfg.Snapshot()
	now := time.Now()

	rel, err := m.db.GetRelationship(relID)
	if err != nil {
		return 0, 0, err
	}
	old = rel.ConfidenceScore

	sourceAttrs, err := m.db.GetAttributes(rel.SourceID)
	if err != nil {
		return old, old, err
	}
	targetAttrs, err := m.db.GetAttributes(rel.TargetID)
	if err != nil {
		return old, old, err
	}

	sourceConf, err := NodeConfidence(sourceAttrs, cfg.Engine.MaxAgeDays, now)
	if err != nil {
		return old, old, fmt.Errorf("relationship %d source: %w", relID, err)
	}
	targetConf, err := NodeConfidence(targetAttrs, cfg.Engine.MaxAgeDays, now)
	if err != nil {
		return old, old, fmt.Errorf("relationship %d target: %w", relID, err)
	}

	sharedFactor, _ := SharedAttributeFactor(sourceAttrs, targetAttrs, cfg.Engine.MaxAgeDays, now)
	updated = RelationshipConfidence(rel.Strength, rel.SourceReliability, sharedFactor, (sourceConf+targetConf)/2)

	if err := m.db.SetRelationshipConfidence(relID, updated); err != nil {
		return old, old, err
	}
	return old, updated, nil
}

// BatchUpdateStale refreshes materialized node scores. With an explicit id
// set it refreshes exactly those nodes; otherwise it selects up to batchSize
// nodes whose scores are older than maxAge, oldest first. Each node commits
// independently, so an interrupted batch resumes where it left off. Nodes
// without attributes are skipped, not fatal.
func (m *Materializer) BatchUpdateStale(nodeIDs []int64, batchSize int, maxAge time.Duration) ([]ScorePair, error) {
	if len(nodeIDs) == 0 {
		var err error
		nodeIDs, err = m.db.StaleNodeIDs(maxAge, batchSize)
		if err != nil {
			return nil, err
		}
	}

	var pairs []ScorePair
	for _, id := range nodeIDs {
		old, updated, err := m.UpdateNodeConfidence(id)
		if err != nil {
			if isSkippable(err) {
				continue
			}
			return pairs, fmt.Errorf("batch update node %d: %w", id, err)
		}
		pairs = append(pairs, ScorePair{ID: id, Old: old, New: updated})
	}
	return pairs, nil
}

// BatchUpdateStaleRelationships refreshes materialized edge scores whose
// timestamp is older than maxAge, oldest first, up to batchSize. Edges whose
// endpoints lack attributes are skipped, not fatal.
func (m *Materializer) BatchUpdateStaleRelationships(batchSize int, maxAge time.Duration) ([]ScorePair, error) {
	ids, err := m.db.StaleRelationshipIDs(maxAge, batchSize)
	if err != nil {
		return nil, err
	}

	var pairs []ScorePair
	for _, id := range ids {
		old, updated, err := m.UpdateRelationshipConfidence(id)
		if err != nil {
			if isSkippable(err) {
				continue
			}
			return pairs, fmt.Errorf("batch update relationship %d: %w", id, err)
		}
		pairs = append(pairs, ScorePair{ID: id, Old: old, New: updated})
	}
	return pairs, nil
}

func isSkippable(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, store.ErrNotFound)
}
