// Package cli implements the billing-agent command line. Commands build the
// same components as the HTTP server and talk to them in-process.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/billing-agent/backend/internal/app"
	"github.com/billing-agent/backend/pkg/config"
	"github.com/billing-agent/backend/pkg/logger"
)

var (
	verbose  bool
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "billing-agent",
	Short: "Telecom billing assistant",
	Long: `billing-agent answers telecom billing questions with a guarded
multi-agent workflow: a router classifies the question, a sales or billing
agent drafts the answer, a manager validates it against retrieved documents
and a formatter adds numbered sources.`,
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		level := logLevel
		if verbose {
			level = "debug"
		}
		// Logs go to stderr so answers on stdout stay pipeable.
		if err := logger.Init(logger.Options{Level: level, Format: "console", Output: "stderr"}); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func Execute() error {
	return rootCmd.Execute()
}

// buildAgent validates the loaded configuration and assembles the full
// workflow. Callers must Close the result.
func buildAgent(ctx context.Context) (*app.App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w (see .env.example)", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return app.Build(ctx, cfg)
}
