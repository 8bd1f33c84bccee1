// Sidekick - a personal co-worker that plans, uses tools and checks its own
// work against your success criteria.
package main

import (
	"log/slog"
	"os"

	"github.com/ashureev/sidekick/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sidekick",
		Short: "Sidekick - personal co-worker with tools and self-evaluation",
		Long: `Sidekick runs a worker agent with web, browser, file, code, calendar and
push notification tools. Every answer is checked by an evaluator against the
success criteria you give, and the worker retries until they are met or it
needs your input.`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd(), askCmd(), calendarCmd(), notifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// loadConfig reads the dotenv file, then the environment.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}
	return config.Load()
}
