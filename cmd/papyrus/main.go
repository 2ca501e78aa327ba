// Package main provides the papyrus CLI entry point.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "papyrus",
	Short: "Deduplicated corpus builder for academic works",
	Long: `papyrus builds a deduplicated corpus of academic works.

Seed PDFs and keyword searches produce candidate records, which move
through a staged pipeline: raw -> enriched -> queued -> done. Every
candidate is resolved against the corpus before insertion, so each
real-world work is represented exactly once. All commands output JSON
by default for easy integration with other tools.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.Version = Version
}

// getRepoRoot locates the corpus repository, or exits when there is
// none.
func getRepoRoot() (string, int) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", outputError(ExitError, "getting current directory: %v", err)
	}

	// PAPYRUS_ROOT overrides discovery, for scripts and tests.
	if root := os.Getenv("PAPYRUS_ROOT"); root != "" {
		return root, 0
	}

	return cwd, 0
}
