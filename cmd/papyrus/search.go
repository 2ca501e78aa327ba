package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchLimit int

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 25, "Maximum number of hits to ingest")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Ingest keyword search hits as candidates",
	Long: `Run a keyword search against the metadata catalog and feed the
hits into the corpus as candidate records. Hits are deduplicated
against the corpus exactly like seed references.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()

	query := strings.Join(args, " ")
	report, err := a.pipe.IngestSearch(cmd.Context(), query, searchLimit)
	if err != nil {
		exitWithError(ExitError, "searching: %v", err)
	}

	if humanOutput {
		fmt.Printf("%q: %d hits, %d inserted, %d merged, %d rejected\n",
			query, report.Candidates, report.Inserted, report.Merged, report.Rejected)
	} else {
		outputJSON(report)
	}
	return nil
}
