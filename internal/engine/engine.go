// Package engine orchestrates the graph store, confidence scoring,
// relationship inference, the vector index, and background maintenance
// behind one collaborator-facing surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/lattice/internal/config"
	"github.com/lazypower/lattice/internal/confidence"
	"github.com/lazypower/lattice/internal/inference"
	"github.com/lazypower/lattice/internal/scheduler"
	"github.com/lazypower/lattice/internal/store"
	"github.com/lazypower/lattice/internal/vecindex"
)

// Engine wires the components together and reacts to store change events:
// a write synchronously refreshes that entity's own materialized confidence,
// and attribute changes enqueue neighbors for deferred re-inference.
type Engine struct {
	DB        *store.DB
	Config    *config.Service
	Conf      *confidence.Materializer
	Inf       *inference.Engine
	Index     *vecindex.Index
	Scheduler *scheduler.Scheduler

	stopCh chan struct{}
}

// New builds an Engine over an opened store, loads persisted tunable
// overrides, seeds the vector index from stored embeddings, and subscribes
// to change events.
func New(db *store.DB, cfg config.Config) (*Engine, error) {
	overrides, err := db.ConfigOverrides()
	if err != nil {
		return nil, fmt.Errorf("load config overrides: %w", err)
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, fmt.Errorf("apply config overrides: %w", err)
	}

	svc, err := config.NewService(cfg)
	if err != nil {
		return nil, err
	}

	conf := confidence.NewMaterializer(db, svc)
	inf := inference.NewEngine(db, svc, conf)
	index := vecindex.New(cfg.Index.Dimensions)
	sched := scheduler.New(db, svc, conf, inf, index)

	e := &Engine{
		DB:        db,
		Config:    svc,
		Conf:      conf,
		Inf:       inf,
		Index:     index,
		Scheduler: sched,
		stopCh:    make(chan struct{}),
	}

	if err := e.loadIndex(); err != nil {
		return nil, err
	}

	db.Subscribe(e.onChange)
	return e, nil
}

// loadIndex builds the in-memory vector index from persisted embeddings.
func (e *Engine) loadIndex() error {
	records, err := e.DB.AllVectors()
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	cfg := e.Config.Snapshot()
	nlist := vecindex.RecommendedPartitionCount(len(records), cfg.Index.MinPartitions, cfg.Index.MaxPartitions)
	if err := e.Index.Build(records, nlist); err != nil {
		return fmt.Errorf("build vector index: %w", err)
	}
	log.Printf("engine: vector index loaded rows=%d partitions=%d", len(records), nlist)
	return nil
}

// onChange reacts to committed store mutations. Confidence refresh is
// synchronous and scoped to the changed entity; inference is deferred to the
// queue so write latency stays proportional to the entity's own size.
func (e *Engine) onChange(c store.Change) {
	switch c.Kind {
	case store.NodeChanged, store.AttributeChanged:
		if _, _, err := e.Conf.UpdateNodeConfidence(c.NodeID); err != nil {
			if errors.Is(err, confidence.ErrInsufficientData) {
				// Zero attributes left: the stale materialized score stands
				// until evidence returns.
				log.Printf("engine: node %d confidence not recomputed: %v", c.NodeID, err)
			} else if !errors.Is(err, store.ErrNotFound) {
				log.Printf("engine: refresh node %d confidence: %v", c.NodeID, err)
			}
		}
		// Edges score against their endpoints' attributes, so a node-level
		// change invalidates every touching edge's materialized score.
		e.refreshTouchingRelationships(c.NodeID)
		if c.Kind == store.AttributeChanged {
			batchID := uuid.NewString()
			if _, err := e.Inf.EnqueueWithCascade(c.NodeID, batchID); err != nil &&
				!errors.Is(err, store.ErrNotFound) {
				log.Printf("engine: enqueue node %d: %v", c.NodeID, err)
			}
		}

	case store.RelationshipChanged:
		if _, _, err := e.Conf.UpdateRelationshipConfidence(c.RelationshipID); err != nil {
			if !errors.Is(err, confidence.ErrInsufficientData) && !errors.Is(err, store.ErrNotFound) {
				log.Printf("engine: refresh relationship %d confidence: %v", c.RelationshipID, err)
			}
		}
	}
}

func (e *Engine) refreshTouchingRelationships(nodeID int64) {
	rels, err := e.DB.ListRelationships(nodeID)
	if err != nil {
		log.Printf("engine: list relationships of node %d: %v", nodeID, err)
		return
	}
	for _, rel := range rels {
		if _, _, err := e.Conf.UpdateRelationshipConfidence(rel.ID); err != nil {
			if !errors.Is(err, confidence.ErrInsufficientData) && !errors.Is(err, store.ErrNotFound) {
				log.Printf("engine: refresh relationship %d confidence: %v", rel.ID, err)
			}
		}
	}
}

// StartMaintenanceTimer runs maintenance once at startup and then on the
// configured interval until Stop.
func (e *Engine) StartMaintenanceTimer() {
	cfg := e.Config.Snapshot()
	interval := time.Duration(cfg.Engine.MaintenanceIntervalMinutes) * time.Minute

	run := func() {
		c := e.Config.Snapshot()
		_, err := e.Scheduler.Run(context.Background(), c.Engine.StaleBatchSize, interval)
		if err != nil && !errors.Is(err, scheduler.ErrRunInProgress) {
			log.Printf("engine: maintenance run: %v", err)
		}
	}

	run()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				run()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}
