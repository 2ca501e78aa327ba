package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tlawson/papyrus/internal/work"
)

var (
	enrichLimit  int
	enrichExpand bool
)

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 25, "Maximum number of records to enrich")
	enrichCmd.Flags().BoolVar(&enrichExpand, "expand", false, "Expand referenced works into new candidates")
	rootCmd.AddCommand(enrichCmd)
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich raw records with catalog metadata",
	Long: `Look up a batch of raw records in the metadata catalog and promote
them to enriched. Records the catalog cannot resolve move to
failed_enrichment with the reason recorded; identifier collisions are
merged instead of duplicated.

With --expand, the referenced works recorded during enrichment become
new raw candidates, bounded by the configured depth and fan-out.`,
	RunE: runEnrich,
}

func runEnrich(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()
	ctx := cmd.Context()

	sum, err := a.pipe.EnrichBatch(ctx, enrichLimit)
	if err != nil {
		exitWithError(ExitError, "enriching: %v", err)
	}

	type enrichResult struct {
		Processed int `json:"processed"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Expanded  int `json:"expanded,omitempty"`
	}
	result := enrichResult{Processed: sum.Processed, Succeeded: sum.Succeeded, Failed: sum.Failed}

	if enrichExpand {
		// Expand the references of everything just enriched.
		batch, err := a.store.FetchBatch(ctx, work.StageEnriched, enrichLimit, nil)
		if err != nil {
			exitWithError(ExitError, "fetching enriched records: %v", err)
		}
		for _, w := range batch {
			report, err := a.pipe.ExpandReferences(ctx, w)
			if err != nil {
				exitWithError(ExitError, "expanding references of %s: %v", w.ID, err)
			}
			result.Expanded += report.Inserted
		}
	}

	if humanOutput {
		fmt.Printf("enriched %d of %d records (%d failed)\n",
			result.Succeeded, result.Processed, result.Failed)
		if enrichExpand {
			fmt.Printf("expanded %d referenced works into candidates\n", result.Expanded)
		}
	} else {
		outputJSON(result)
	}
	return nil
}
