package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"switchboard/internal/audit"
	"switchboard/internal/observability"
	"switchboard/internal/router"
	"switchboard/internal/server"
	"switchboard/internal/session"
)

var (
	serveAddr      string
	metricsEnabled bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the routing HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8420", "listen address")
	serveCmd.Flags().BoolVar(&metricsEnabled, "metrics", true, "expose prometheus metrics on /metrics")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, meta, err := loadConfig()
	if err != nil {
		return err
	}
	if meta.ConfigFile() != "" {
		fmt.Printf("Loaded config from %s\n", meta.ConfigFile())
	}

	metrics, err := observability.NewMetrics(observability.Config{Enabled: metricsEnabled, ServiceVersion: Version})
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	store := session.NewFileStore(sessionsDir)

	strategy, err := buildStrategy()
	if err != nil {
		return fmt.Errorf("initialize semantic scorer: %w", err)
	}

	routerOpts := []router.RouterOption{
		router.WithMetrics(metrics),
		router.WithStrategy(strategy),
	}
	if decisionLog != "" {
		routerOpts = append(routerOpts, router.WithRecorder(audit.NewRecorder(decisionLog)))
	}
	r, err := router.NewRouter(cfg, store, routerOpts...)
	if err != nil {
		return err
	}

	srv := server.New(r, server.WithMetrics(metrics))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx, serveAddr)
}
