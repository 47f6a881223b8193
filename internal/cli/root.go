package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Confidence-scored knowledge graph engine",
	Long:  "Lattice stores a knowledge graph with confidence-scored nodes, attributes, and relationships, infers implicit edges from shared attributes, and serves similarity search over node embeddings.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(statsCmd)
}
