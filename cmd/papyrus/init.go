package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tlawson/papyrus/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new corpus repository",
	Long: `Initialize a new corpus repository in the current directory.

Creates:
  .papyrus/
  ├── config.yml      # Default config
  ├── corpus.db       # Created on first use
  └── pdfs/           # Downloaded documents`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	root, exitCode := getRepoRoot()
	if exitCode != 0 {
		exitWithError(exitCode, "locating repository root")
	}

	if _, err := config.Init(root); err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		fmt.Printf("Initialized papyrus repository in %s\n", root)
	} else {
		outputJSON(StatusResponse{Status: "initialized", Path: root})
	}
	return nil
}
