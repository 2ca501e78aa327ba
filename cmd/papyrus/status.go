package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tlawson/papyrus/internal/work"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-stage record counts",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()

	counts, err := a.store.Counts(cmd.Context())
	if err != nil {
		exitWithError(ExitError, "counting: %v", err)
	}

	mergeLog, err := a.store.MergeLog(cmd.Context(), 1)
	if err != nil {
		exitWithError(ExitError, "reading merge log: %v", err)
	}

	total := 0
	byStage := make(map[string]int, len(counts))
	for stage, n := range counts {
		byStage[string(stage)] = n
		total += n
	}

	if humanOutput {
		fmt.Printf("papyrus repository: %s\n\n", a.root)
		for _, stage := range work.Stages {
			fmt.Printf("  %-20s %d\n", stage, counts[stage])
		}
		fmt.Printf("  %-20s %d\n", "total", total)
		if len(mergeLog) > 0 {
			fmt.Printf("\nlast merge: %s into %s (%s)\n",
				mergeLog[0].LoserID, mergeLog[0].SurvivorID, mergeLog[0].Rule)
		}
		return nil
	}

	type statusResponse struct {
		Path   string         `json:"path"`
		Stages map[string]int `json:"stages"`
		Total  int            `json:"total"`
	}
	return outputJSON(statusResponse{Path: a.root, Stages: byStage, Total: total})
}
