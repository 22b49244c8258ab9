// Package main provides the CLI entry point for the finchat backend, a
// streaming personal-finance assistant server.
//
// # Basic Usage
//
// Start the server:
//
//	finchat serve --config finchat.yaml
//
// # Environment Variables
//
//   - FINCHAT_CONFIG: Path to configuration file (default: finchat.yaml)
//   - FINCHAT_ADDR: HTTP listen address
//   - FINCHAT_DATABASE_URL: PostgreSQL URL; empty keeps sessions in memory
//   - FINCHAT_INFERENCE_BASE_URL / FINCHAT_INFERENCE_API_KEY: serving host
//   - FINCHAT_CATALOG_BASE_URL / FINCHAT_CATALOG_TOKEN: agent catalog
//   - FINCHAT_JWT_SECRET: enables bearer-token identity
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "finchat",
		Short: "finchat - streaming personal finance assistant backend",
		Long: `finchat serves the finance assistant API: chat session management,
agent descriptor lookups, and streaming agent invocations over SSE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("finchat %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("FINCHAT_CONFIG"); env != "" {
		return env
	}
	return "finchat.yaml"
}
