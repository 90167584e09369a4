// Package cmd implements the recall command line interface.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall - semantic memory service",
	Long: `Recall ingests conversations, documents, and workflows into a
pgvector-backed semantic index, and serves retrieval, full content
recovery, and topic clustering over HTTP.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Missing .env is fine, the environment may be set directly.
		_ = godotenv.Load()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
