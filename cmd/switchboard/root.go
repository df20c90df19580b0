package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"switchboard/internal/config"
	"switchboard/internal/router"
	"switchboard/internal/semantic"
)

var (
	// Version is set at build time.
	Version = "dev"

	configFile       string
	sessionsDir      string
	decisionLog      string
	embeddingBaseURL string
	embeddingModel   string
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Session routing engine for long-running assistant conversations",
	Long: `Switchboard decides, per incoming message, whether a conversation should
continue in its current session, start a fresh one, fork a side branch, or
ask the user. Decisions combine explicit intent, context pressure, semantic
relevance, time gaps and conversation health.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default searches ~/switchboard.yaml, ./switchboard.yaml)")
	rootCmd.PersistentFlags().StringVar(&sessionsDir, "sessions-dir", "~/.switchboard/sessions", "directory holding session files")
	rootCmd.PersistentFlags().StringVar(&decisionLog, "decision-log", "~/.switchboard/decisions.jsonl", "decision log path (empty disables)")
	rootCmd.PersistentFlags().StringVar(&embeddingBaseURL, "embedding-base-url", "", "OpenAI-compatible embeddings endpoint; empty disables the semantic signal")
	rootCmd.PersistentFlags().StringVar(&embeddingModel, "embedding-model", "", "embedding model name")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("switchboard %s\n", Version)
	},
}

func loadConfig() (config.RouterConfig, config.Metadata, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	return config.Load(opts...)
}

// buildScorer creates the semantic relevance collaborator when an embeddings
// endpoint is configured. Without one the engine routes on the remaining
// signals.
func buildScorer() (router.Scorer, error) {
	if embeddingBaseURL == "" {
		return nil, nil
	}
	embed, err := semantic.NewEmbeddingFunc(semantic.EmbedderConfig{
		Model:   embeddingModel,
		BaseURL: embeddingBaseURL,
		APIKey:  os.Getenv("SWITCHBOARD_EMBEDDING_API_KEY"),
	})
	if err != nil {
		return nil, err
	}
	return semantic.NewChromemScorer(embed, 0)
}

func buildStrategy() (router.Strategy, error) {
	scorer, err := buildScorer()
	if err != nil {
		return nil, err
	}
	var opts []router.EngineOption
	if scorer != nil {
		opts = append(opts, router.WithScorer(scorer))
	}
	return router.NewRuleEngine(opts...), nil
}
