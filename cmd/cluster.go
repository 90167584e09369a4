package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/recall/internal/app"
	"github.com/koopa0/recall/internal/cluster"
	"github.com/koopa0/recall/internal/config"
	"github.com/koopa0/recall/internal/log"
)

var (
	clusterMinSize int
	clusterEps     float64
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <session-id>",
	Short: "Group a session's conversations into topics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCluster(args[0])
	},
}

func init() {
	clusterCmd.Flags().IntVar(&clusterMinSize, "min-cluster-size", 0,
		"minimum points per topic (0 uses the configured default)")
	clusterCmd.Flags().Float64Var(&clusterEps, "eps", 0,
		"neighborhood radius (0 uses the configured default)")
	rootCmd.AddCommand(clusterCmd)
}

func runCluster(sessionID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, err := cfg.APIKey(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	opts := []cluster.Option{}
	if clusterMinSize > 0 {
		opts = append(opts, cluster.WithMinClusterSize(clusterMinSize))
	}
	if clusterEps > 0 {
		opts = append(opts, cluster.WithEps(clusterEps))
	}

	stats, err := a.Clusterer.Cluster(ctx, sessionID, opts...)
	if err != nil {
		return fmt.Errorf("clustering session %s: %w", sessionID, err)
	}

	fmt.Printf("session %s: %d points, %d clusters, %d noise\n",
		sessionID, stats.Points, stats.Clusters, stats.Noise)
	return nil
}
