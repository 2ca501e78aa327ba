package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tlawson/papyrus/internal/corpus"
	"github.com/tlawson/papyrus/internal/work"
)

var (
	exportYearFrom int
	exportYearTo   int
	exportOrigin   string
)

func init() {
	exportCmd.Flags().IntVar(&exportYearFrom, "year-from", 0, "Earliest publication year")
	exportCmd.Flags().IntVar(&exportYearTo, "year-to", 0, "Latest publication year")
	exportCmd.Flags().StringVar(&exportOrigin, "origin", "", "Filter by origin kind (seed-extraction, search-hit, alias-backfill)")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export completed records",
	Long: `Export done-stage records as JSON, optionally filtered by
publication year range and origin kind.`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	var filter *corpus.Filter
	if exportYearFrom != 0 || exportYearTo != 0 || exportOrigin != "" {
		filter = &corpus.Filter{
			YearFrom:   exportYearFrom,
			YearTo:     exportYearTo,
			OriginKind: work.OriginKind(exportOrigin),
		}
	}

	a := requireRepo()
	defer a.store.Close()

	works, err := a.store.ExportDone(cmd.Context(), filter)
	if err != nil {
		exitWithError(ExitError, "exporting: %v", err)
	}

	if humanOutput {
		fmt.Printf("%d completed records\n\n", len(works))
		for _, w := range works {
			printWorkHuman(w)
		}
		return nil
	}
	return outputJSON(works)
}
