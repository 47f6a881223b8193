package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/lattice/internal/config"
	"github.com/lazypower/lattice/internal/engine"
	"github.com/lazypower/lattice/internal/store"
)

var (
	maintainBatchSize int
	maintainRuntime   time.Duration
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run one bounded maintenance pass and exit",
	Long:  "Drains the inference queue, refreshes stale confidence scores, retunes the vector index when warranted, and cleans up decayed inferred edges.",
	RunE:  runMaintain,
}

func init() {
	maintainCmd.Flags().IntVar(&maintainBatchSize, "batch-size", 100, "maximum entries per phase")
	maintainCmd.Flags().DurationVar(&maintainRuntime, "max-runtime", time.Minute, "runtime budget for the run")
}

func runMaintain(cmd *cobra.Command, args []string) error {
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

	summary, err := eng.RunMaintenance(context.Background(), maintainBatchSize, maintainRuntime)
	if err != nil {
		return err
	}

	fmt.Printf("maintenance complete in %s\n", summary.Elapsed.Round(time.Millisecond))
	fmt.Printf("  queue processed:    %d (%d failed)\n", summary.QueueProcessed, summary.QueueFailed)
	fmt.Printf("  edges inferred:     %d\n", summary.RelationshipsInferred)
	fmt.Printf("  confidence updated: %d nodes, %d edges\n", summary.NodesConfidenceUpdated, summary.RelsConfidenceUpdated)
	fmt.Printf("  index rebuilds:     %d\n", summary.IndexRebuilds)
	fmt.Printf("  edges cleaned:      %d\n", summary.EdgesCleaned)
	if summary.BudgetExhausted {
		fmt.Println("  runtime budget exhausted before all phases completed")
	}
	return nil
}
