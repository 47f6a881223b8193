package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/lattice/internal/config"
	"github.com/lazypower/lattice/internal/engine"
	"github.com/lazypower/lattice/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph and queue statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.ApplyEnv()

	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng, err := engine.New(db, cfg)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	stats, err := eng.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("db: %s\n", dbPath)
	fmt.Printf("  nodes:            %d\n", stats.Nodes)
	fmt.Printf("  relationships:    %d (%d inferred)\n", stats.Relationships, stats.InferredRelationships)
	fmt.Printf("  embeddings:       %d\n", stats.Vectors)
	fmt.Printf("  queue depth:      %d\n", stats.QueueDepth)
	fmt.Printf("  index partitions: %d\n", stats.IndexPartitions)
	return nil
}
