package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <seed.pdf> [more.pdf ...]",
	Short: "Extract candidates from seed PDFs",
	Long: `Extract candidate records from one or more seed PDFs.

Each seed contributes its own DOI (when one is printed on it) plus
every reference the parsing service can make sense of. Candidates are
deduplicated against the corpus on insertion.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()

	type seedResult struct {
		Seed       string `json:"seed"`
		Candidates int    `json:"candidates"`
		Inserted   int    `json:"inserted"`
		Merged     int    `json:"merged"`
		Rejected   int    `json:"rejected"`
		SeedDOI    string `json:"seed_doi,omitempty"`
		Error      string `json:"error,omitempty"`
	}

	var results []seedResult
	failed := false
	for _, path := range args {
		if _, err := os.Stat(path); err != nil {
			results = append(results, seedResult{Seed: path, Error: err.Error()})
			failed = true
			continue
		}
		report, err := a.pipe.IngestSeed(cmd.Context(), path)
		if err != nil {
			results = append(results, seedResult{Seed: path, Error: err.Error()})
			failed = true
			continue
		}
		results = append(results, seedResult{
			Seed:       path,
			Candidates: report.Candidates,
			Inserted:   report.Inserted,
			Merged:     report.Merged,
			Rejected:   report.Rejected,
			SeedDOI:    report.SeedDOI,
		})
	}

	if humanOutput {
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("%s: error: %s\n", r.Seed, r.Error)
				continue
			}
			fmt.Printf("%s: %d candidates, %d inserted, %d merged, %d rejected\n",
				r.Seed, r.Candidates, r.Inserted, r.Merged, r.Rejected)
			if r.SeedDOI != "" {
				fmt.Printf("   seed doi: %s\n", r.SeedDOI)
			}
		}
	} else {
		outputJSON(results)
	}

	if failed {
		os.Exit(ExitDataError)
	}
	return nil
}
