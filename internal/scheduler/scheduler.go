// Package scheduler drives background maintenance: draining the inference
// queue, refreshing stale confidence scores, retuning the vector index, and
// cleaning up decayed inferred edges, all within a bounded runtime.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/lazypower/lattice/internal/config"
	"github.com/lazypower/lattice/internal/confidence"
	"github.com/lazypower/lattice/internal/inference"
	"github.com/lazypower/lattice/internal/store"
	"github.com/lazypower/lattice/internal/vecindex"
)

// ErrRunInProgress is returned when Run is called while another run is
// active. Maintenance never overlaps itself.
var ErrRunInProgress = errors.New("maintenance run already in progress")

// Scheduler coordinates the maintenance phases. One active run at a time.
type Scheduler struct {
	db    *store.DB
	cfg   *config.Service
	conf  *confidence.Materializer
	inf   *inference.Engine
	index *vecindex.Index

	running atomic.Bool
	runSeq  atomic.Int64

	// Cumulative counters across all runs, for the stats surface.
	totalQueueProcessed atomic.Int64
	totalNodesUpdated   atomic.Int64
	totalRelsUpdated    atomic.Int64
	totalEdgesInferred  atomic.Int64
	totalIndexRebuilds  atomic.Int64
	totalEdgesCleaned   atomic.Int64
}

// New returns a Scheduler wired to all maintenance collaborators.
func New(db *store.DB, cfg *config.Service, conf *confidence.Materializer, inf *inference.Engine, index *vecindex.Index) *Scheduler {
	return &Scheduler{db: db, cfg: cfg, conf: conf, inf: inf, index: index}
}

// PhaseStats records one phase's work and latency.
type PhaseStats struct {
	Items      int           `json:"items"`
	Failed     int           `json:"failed"`
	Elapsed    time.Duration `json:"elapsed_ms"`
	AvgPerItem time.Duration `json:"avg_per_item_ms"`
}

// Summary is the structured result of one maintenance run.
type Summary struct {
	Started                time.Time     `json:"started"`
	Elapsed                time.Duration `json:"elapsed_ms"`
	BudgetExhausted        bool          `json:"budget_exhausted"`
	QueueProcessed         int           `json:"queue_entries_processed"`
	QueueFailed            int           `json:"queue_entries_failed"`
	RelationshipsInferred  int           `json:"relationships_inferred"`
	NodesConfidenceUpdated int           `json:"nodes_confidence_updated"`
	RelsConfidenceUpdated  int           `json:"relationships_confidence_updated"`
	IndexRebuilds          int           `json:"index_rebuilds"`
	EdgesCleaned           int           `json:"inferred_edges_cleaned"`
	Queue                  PhaseStats    `json:"queue_phase"`
	Confidence             PhaseStats    `json:"confidence_phase"`
	Index                  PhaseStats    `json:"index_phase"`
	Cleanup                PhaseStats    `json:"cleanup_phase"`
}

// Totals holds cumulative counters across all completed runs.
type Totals struct {
	QueueEntriesProcessed  int64 `json:"queue_entries_processed_total"`
	NodesConfidenceUpdated int64 `json:"nodes_confidence_updated_total"`
	RelsConfidenceUpdated  int64 `json:"relationships_confidence_updated_total"`
	RelationshipsInferred  int64 `json:"relationships_inferred_total"`
	IndexRebuilds          int64 `json:"index_rebuilds_total"`
	InferredEdgesCleaned   int64 `json:"inferred_edges_cleaned_total"`
}

// Totals returns the cumulative per-phase counters.
func (s *Scheduler) Totals() Totals {
	return Totals{
		QueueEntriesProcessed:  s.totalQueueProcessed.Load(),
		NodesConfidenceUpdated: s.totalNodesUpdated.Load(),
		RelsConfidenceUpdated:  s.totalRelsUpdated.Load(),
		RelationshipsInferred:  s.totalEdgesInferred.Load(),
		IndexRebuilds:          s.totalIndexRebuilds.Load(),
		InferredEdgesCleaned:   s.totalEdgesCleaned.Load(),
	}
}

// Running reports whether a maintenance run is currently active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Run executes the maintenance phases within maxRuntime. The budget is
// advisory cancellation: checked between items, never preemptive — an
// in-flight item always finishes. Returns ErrRunInProgress if a run is
// already active.
func (s *Scheduler) Run(ctx context.Context, maxBatchSize int, maxRuntime time.Duration) (*Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	if maxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", maxBatchSize)
	}

	cfg := s.cfg.Snapshot()
	started := time.Now()
	deadline := started.Add(maxRuntime)
	seq := s.runSeq.Add(1)

	summary := &Summary{Started: started}
	log.Printf("maintenance: run %d started batch_size=%d budget=%s", seq, maxBatchSize, maxRuntime)

	s.drainQueue(ctx, summary, maxBatchSize, deadline)

	if s.withinBudget(ctx, summary, deadline) {
		s.refreshStale(summary, cfg, maxBatchSize)
	}

	if s.withinBudget(ctx, summary, deadline) && seq%int64(cfg.Engine.IndexCheckEvery) == 0 {
		s.retuneIndex(summary, cfg)
	}

	if s.withinBudget(ctx, summary, deadline) {
		s.cleanupInferredEdges(summary, cfg)
	}

	summary.Elapsed = time.Since(started)
	s.totalQueueProcessed.Add(int64(summary.QueueProcessed))
	s.totalNodesUpdated.Add(int64(summary.NodesConfidenceUpdated))
	s.totalRelsUpdated.Add(int64(summary.RelsConfidenceUpdated))
	s.totalEdgesInferred.Add(int64(summary.RelationshipsInferred))
	s.totalIndexRebuilds.Add(int64(summary.IndexRebuilds))
	s.totalEdgesCleaned.Add(int64(summary.EdgesCleaned))

	log.Printf("maintenance: run %d done elapsed_ms=%d queue=%d inferred=%d node_confidence=%d rel_confidence=%d rebuilds=%d cleaned=%d budget_exhausted=%v",
		seq, summary.Elapsed.Milliseconds(), summary.QueueProcessed, summary.RelationshipsInferred,
		summary.NodesConfidenceUpdated, summary.RelsConfidenceUpdated, summary.IndexRebuilds,
		summary.EdgesCleaned, summary.BudgetExhausted)
	return summary, nil
}

func (s *Scheduler) withinBudget(ctx context.Context, summary *Summary, deadline time.Time) bool {
	if ctx.Err() != nil || time.Now().After(deadline) {
		summary.BudgetExhausted = true
		return false
	}
	return true
}

// drainQueue runs inference for pending queue entries in priority order.
// Item failures count against the entry's retries and never abort the phase.
func (s *Scheduler) drainQueue(ctx context.Context, summary *Summary, maxBatchSize int, deadline time.Time) {
	phaseStart := time.Now()

	entries, err := s.db.DequeueBatch(maxBatchSize)
	if err != nil {
		log.Printf("maintenance: dequeue failed: %v", err)
		return
	}

	for _, entry := range entries {
		if !s.withinBudget(ctx, summary, deadline) {
			// Unprocessed entries go back to pending so the next run picks
			// them up. No retry is charged.
			if err := s.db.Requeue(entry.ID); err != nil {
				log.Printf("maintenance: requeue entry %d: %v", entry.ID, err)
			}
			continue
		}

		res, err := s.inf.InferForNode(entry.NodeID)
		if err != nil {
			retrying, markErr := s.db.MarkFailed(entry.ID)
			if markErr != nil {
				log.Printf("maintenance: mark entry %d failed: %v", entry.ID, markErr)
			}
			log.Printf("maintenance: inference node=%d entry=%d outcome=error retrying=%v err=%v",
				entry.NodeID, entry.ID, retrying, err)
			summary.QueueFailed++
			summary.Queue.Failed++
			continue
		}

		if err := s.db.MarkCompleted(entry.ID); err != nil {
			log.Printf("maintenance: mark entry %d completed: %v", entry.ID, err)
		}
		summary.QueueProcessed++
		summary.Queue.Items++
		summary.RelationshipsInferred += res.Inferred
	}

	finishPhase(&summary.Queue, phaseStart)
}

// refreshStale recomputes materialized confidence for the oldest stale nodes
// and edges. The edge pass catches scores the synchronous write path missed,
// e.g. recency decay with no intervening write.
func (s *Scheduler) refreshStale(summary *Summary, cfg config.Config, maxBatchSize int) {
	phaseStart := time.Now()

	batchSize := cfg.Engine.StaleBatchSize
	if maxBatchSize < batchSize {
		batchSize = maxBatchSize
	}
	maxAge := time.Duration(cfg.Engine.StaleMaxAgeHours) * time.Hour

	pairs, err := s.conf.BatchUpdateStale(nil, batchSize, maxAge)
	if err != nil {
		log.Printf("maintenance: stale node confidence refresh: %v", err)
		summary.Confidence.Failed++
	}
	summary.NodesConfidenceUpdated += len(pairs)
	summary.Confidence.Items += len(pairs)

	relPairs, err := s.conf.BatchUpdateStaleRelationships(batchSize, maxAge)
	if err != nil {
		log.Printf("maintenance: stale relationship confidence refresh: %v", err)
		summary.Confidence.Failed++
	}
	summary.RelsConfidenceUpdated += len(relPairs)
	summary.Confidence.Items += len(relPairs)

	finishPhase(&summary.Confidence, phaseStart)
}

// retuneIndex checks whether the vector index's partition count still fits
// the data volume and rebuilds when the hysteresis thresholds warrant it.
func (s *Scheduler) retuneIndex(summary *Summary, cfg config.Config) {
	phaseStart := time.Now()
	defer func() { finishPhase(&summary.Index, phaseStart) }()

	rows, err := s.db.CountVectors()
	if err != nil {
		log.Printf("maintenance: count vectors: %v", err)
		summary.Index.Failed++
		return
	}
	if rows == 0 {
		return
	}

	recommended := vecindex.RecommendedPartitionCount(rows, cfg.Index.MinPartitions, cfg.Index.MaxPartitions)
	decision := vecindex.EvaluateRetune(s.index.PartitionCount(), recommended,
		cfg.Index.DriftThreshold, cfg.Index.RebuildThreshold)

	switch decision {
	case vecindex.Rebuild:
		records, err := s.db.AllVectors()
		if err != nil {
			log.Printf("maintenance: load vectors for rebuild: %v", err)
			summary.Index.Failed++
			return
		}
		if err := s.index.Build(records, recommended); err != nil {
			log.Printf("maintenance: index rebuild: %v", err)
			summary.Index.Failed++
			return
		}
		summary.IndexRebuilds++
		summary.Index.Items = 1
		log.Printf("maintenance: index rebuilt partitions=%d rows=%d", recommended, rows)
	case vecindex.MarkDrifted:
		s.index.MarkDrift()
		log.Printf("maintenance: index drift flagged current=%d recommended=%d", s.index.PartitionCount(), recommended)
	}
}

// cleanupInferredEdges removes auto-inferred edges whose confidence stayed
// below the cleanup threshold past the retention window.
func (s *Scheduler) cleanupInferredEdges(summary *Summary, cfg config.Config) {
	phaseStart := time.Now()

	retention := time.Duration(cfg.Engine.CleanupRetentionHours) * time.Hour
	n, err := s.db.DeleteDecayedInferredRelationships(cfg.Engine.CleanupThreshold, retention)
	if err != nil {
		log.Printf("maintenance: inferred edge cleanup: %v", err)
		summary.Cleanup.Failed++
	}
	summary.EdgesCleaned += n
	summary.Cleanup.Items = n

	finishPhase(&summary.Cleanup, phaseStart)
}

func finishPhase(p *PhaseStats, started time.Time) {
	p.Elapsed = time.Since(started)
	if p.Items > 0 {
		p.AvgPerItem = p.Elapsed / time.Duration(p.Items)
	}
}
