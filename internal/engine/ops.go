package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lazypower/lattice/internal/confidence"
	"github.com/lazypower/lattice/internal/scheduler"
	"github.com/lazypower/lattice/internal/store"
	"github.com/lazypower/lattice/internal/vecindex"
)

// logOp emits the structured per-operation event consumed by external log
// collectors.
func logOp(operation string, entityID int64, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	log.Printf("op=%s entity_id=%d stage=done elapsed_ms=%d outcome=%s",
		operation, entityID, time.Since(started).Milliseconds(), outcome)
}

func notYetScored(kind string, id int64) error {
	return fmt.Errorf("%w: %s %d has no materialized confidence yet", confidence.ErrInsufficientData, kind, id)
}

// CreateNode inserts a node and returns it with its assigned id.
func (e *Engine) CreateNode(node *store.Node) (err error) {
	started := time.Now()
	defer func() { logOp("create_node", node.ID, started, err) }()
	return e.DB.CreateNode(node)
}

// UpdateNode replaces a node's name, type, and metadata.
func (e *Engine) UpdateNode(node *store.Node) (err error) {
	started := time.Now()
	defer func() { logOp("update_node", node.ID, started, err) }()
	return e.DB.UpdateNode(node)
}

// DeleteNode removes an unreferenced node along with its attributes,
// embedding, and queue entries.
func (e *Engine) DeleteNode(id int64) (err error) {
	started := time.Now()
	defer func() { logOp("delete_node", id, started, err) }()
	if err := e.DB.DeleteNode(id); err != nil {
		return err
	}
	e.Index.Remove(id)
	return nil
}

// GetNode returns a node by id.
func (e *Engine) GetNode(id int64) (node *store.Node, err error) {
	started := time.Now()
	defer func() { logOp("get_node", id, started, err) }()
	return e.DB.GetNode(id)
}

// AddAttribute attaches an attribute to a node. The owning node's confidence
// refreshes synchronously; neighbor re-inference is queued.
func (e *Engine) AddAttribute(attr *store.Attribute) (err error) {
	started := time.Now()
	defer func() { logOp("add_attribute", attr.NodeID, started, err) }()
	return e.DB.AddAttribute(attr)
}

// UpdateAttribute re-verifies an attribute.
func (e *Engine) UpdateAttribute(attr *store.Attribute) (err error) {
	started := time.Now()
	defer func() { logOp("update_attribute", attr.NodeID, started, err) }()
	return e.DB.UpdateAttribute(attr)
}

// DeleteAttribute removes an attribute, triggering recomputation of the
// owning node's confidence.
func (e *Engine) DeleteAttribute(id int64) (err error) {
	started := time.Now()
	defer func() { logOp("delete_attribute", id, started, err) }()
	return e.DB.DeleteAttribute(id)
}

// GetAttributes lists a node's attributes.
func (e *Engine) GetAttributes(nodeID int64) ([]store.Attribute, error) {
	return e.DB.GetAttributes(nodeID)
}

// CreateRelationship inserts an explicitly authored edge.
func (e *Engine) CreateRelationship(rel *store.Relationship) (err error) {
	started := time.Now()
	defer func() { logOp("create_relationship", rel.ID, started, err) }()
	return e.DB.CreateRelationship(rel)
}

// DeleteRelationship removes an edge by id.
func (e *Engine) DeleteRelationship(id int64) (err error) {
	started := time.Now()
	defer func() { logOp("delete_relationship", id, started, err) }()
	return e.DB.DeleteRelationship(id)
}

// ListRelationships returns all edges touching a node.
func (e *Engine) ListRelationships(nodeID int64) (rels []store.Relationship, err error) {
	started := time.Now()
	defer func() { logOp("list_relationships", nodeID, started, err) }()
	return e.DB.ListRelationships(nodeID)
}

// GetNodeConfidence reads a node's materialized score. It never recomputes
// inline; a node never scored yields InsufficientData.
func (e *Engine) GetNodeConfidence(id int64) (score float64, err error) {
	started := time.Now()
	defer func() { logOp("get_node_confidence", id, started, err) }()

	node, err := e.DB.GetNode(id)
	if err != nil {
		return 0, err
	}
	if node.ConfidenceLastUpdated == nil {
		return 0, notYetScored("node", id)
	}
	return node.ConfidenceScore, nil
}

// GetRelationshipConfidence reads an edge's materialized score.
func (e *Engine) GetRelationshipConfidence(id int64) (score float64, err error) {
	started := time.Now()
	defer func() { logOp("get_relationship_confidence", id, started, err) }()

	rel, err := e.DB.GetRelationship(id)
	if err != nil {
		return 0, err
	}
	if rel.ConfidenceLastUpdated == nil {
		return 0, notYetScored("relationship", id)
	}
	return rel.ConfidenceScore, nil
}

// UpsertEmbedding persists a node's embedding and updates the in-memory
// index.
func (e *Engine) UpsertEmbedding(nodeID int64, vector []float64) (err error) {
	started := time.Now()
	defer func() { logOp("upsert_embedding", nodeID, started, err) }()

	if err := e.DB.SaveVector(nodeID, vector); err != nil {
		return err
	}
	return e.Index.Upsert(nodeID, vector)
}

// SimilaritySearch returns up to k node ids ranked by descending cosine
// similarity to the query. minSimilarity is an inclusive lower bound.
func (e *Engine) SimilaritySearch(query []float64, k int, minSimilarity float64) (matches []vecindex.Match, err error) {
	started := time.Now()
	defer func() { logOp("similarity_search", 0, started, err) }()

	cfg := e.Config.Snapshot()
	return e.Index.Search(query, k, minSimilarity, cfg.Index.ProbeFraction)
}

// RunMaintenance runs one bounded maintenance pass. Intended for an
// operator-facing scheduler or cron external to the engine.
func (e *Engine) RunMaintenance(ctx context.Context, maxBatchSize int, maxRuntime time.Duration) (summary *scheduler.Summary, err error) {
	started := time.Now()
	defer func() { logOp("run_maintenance", 0, started, err) }()
	return e.Scheduler.Run(ctx, maxBatchSize, maxRuntime)
}

// Stats aggregates engine state for the stats surface.
type Stats struct {
	Nodes                 int              `json:"nodes"`
	Relationships         int              `json:"relationships"`
	InferredRelationships int              `json:"inferred_relationships"`
	Vectors               int              `json:"vectors"`
	QueueDepth            int              `json:"queue_depth"`
	IndexPartitions       int              `json:"index_partitions"`
	IndexDrifted          bool             `json:"index_drifted"`
	MaintenanceRunning    bool             `json:"maintenance_running"`
	Totals                scheduler.Totals `json:"totals"`
}

// Stats returns counts and cumulative maintenance counters.
func (e *Engine) Stats() (*Stats, error) {
	nodes, err := e.DB.CountNodes()
	if err != nil {
		return nil, err
	}
	total, inferred, err := e.DB.CountRelationships()
	if err != nil {
		return nil, err
	}
	vectors, err := e.DB.CountVectors()
	if err != nil {
		return nil, err
	}
	depth, err := e.DB.QueueDepth()
	if err != nil {
		return nil, err
	}

	return &Stats{
		Nodes:                 nodes,
		Relationships:         total,
		InferredRelationships: inferred,
		Vectors:               vectors,
		QueueDepth:            depth,
		IndexPartitions:       e.Index.PartitionCount(),
		IndexDrifted:          e.Index.Drifted(),
		MaintenanceRunning:    e.Scheduler.Running(),
		Totals:                e.Scheduler.Totals(),
	}, nil
}

// ApplyConfig validates and applies tunable overrides, persisting them so
// they survive restarts.
func (e *Engine) ApplyConfig(overrides map[string]string) error {
	if err := e.Config.Apply(overrides); err != nil {
		return err
	}
	for key, value := range overrides {
		if err := e.DB.SetConfigOverride(key, value); err != nil {
			return err
		}
	}
	return nil
}
