package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(retryCmd)
}

var retryCmd = &cobra.Command{
	Use:   "retry <id> [id ...]",
	Short: "Resubmit failed records into the pipeline",
	Long: `Resubmit failed records: failed_enrichment records re-enter at raw,
failed_download records re-enter at queued. Resubmission is always
explicit; failed records are never retried automatically.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()

	type retryResult struct {
		ID    string `json:"id"`
		Stage string `json:"stage,omitempty"`
		Error string `json:"error,omitempty"`
	}

	var results []retryResult
	failed := false
	for _, id := range args {
		w, err := a.store.Resubmit(cmd.Context(), id)
		if err != nil {
			results = append(results, retryResult{ID: id, Error: err.Error()})
			failed = true
			continue
		}
		results = append(results, retryResult{ID: id, Stage: string(w.Stage)})
	}

	if humanOutput {
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("%s: error: %s\n", r.ID, r.Error)
			} else {
				fmt.Printf("%s: resubmitted to %s\n", r.ID, r.Stage)
			}
		}
	} else {
		outputJSON(results)
	}

	if failed {
		return fmt.Errorf("some records could not be resubmitted")
	}
	return nil
}
