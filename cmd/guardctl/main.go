// Command guardctl is the operator tool of exstem-guard: it mints tokens for
// testing, grades answer files offline and queues regrades.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "guardctl",
		Short:        "Operator tool for the exam integrity and scoring service",
		SilenceUsage: true,
	}
	root.AddCommand(tokenCmd(), gradeCmd(), regradeCmd())
	return root
}

// setup loads the environment configuration and a logger writing to stderr,
// keeping stdout for command output.
func setup() (*config.Config, zerolog.Logger) {
	cfg := config.Load()
	return cfg, logger.New(os.Stderr, cfg.LogLevel, "pretty")
}
