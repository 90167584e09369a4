package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/recall/internal/api"
	"github.com/koopa0/recall/internal/app"
	"github.com/koopa0/recall/internal/config"
	"github.com/koopa0/recall/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, err := cfg.APIKey(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{JSON: true})
	logger.Info("starting recall", "version", Version, "provider", cfg.Provider)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	server, err := api.NewServer(api.Config{
		Logger:      logger,
		Pipeline:    a.Pipeline,
		Engine:      a.Engine,
		Clusterer:   a.Clusterer,
		Collections: a.Index,
		Queue:       a.Queue,
		Answerer:    a.Answerer,
		Ping:        a.Pool.Ping,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	return server.Start(ctx, cfg.ListenAddr)
}
