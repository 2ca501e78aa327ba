package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tlawson/papyrus/internal/work"
)

var (
	listLimit  int
	listOffset int
)

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Page size")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Page offset")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list <stage>",
	Short: "List records in a stage",
	Long: `List records in a stage in creation order, oldest first.

Stages: raw, enriched, queued, done, failed_enrichment,
failed_download.`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	stage := work.Stage(args[0])
	if !stage.Valid() {
		exitWithError(ExitDataError, "unknown stage %q", args[0])
	}

	a := requireRepo()
	defer a.store.Close()

	works, total, err := a.store.List(cmd.Context(), stage, listLimit, listOffset)
	if err != nil {
		exitWithError(ExitError, "listing: %v", err)
	}

	if humanOutput {
		fmt.Printf("%s: %d records (showing %d from offset %d)\n\n",
			stage, total, len(works), listOffset)
		for _, w := range works {
			printWorkHuman(w)
		}
		return nil
	}

	type listResponse struct {
		Stage  string       `json:"stage"`
		Total  int          `json:"total"`
		Offset int          `json:"offset"`
		Works  []*work.Work `json:"works"`
	}
	return outputJSON(listResponse{
		Stage:  string(stage),
		Total:  total,
		Offset: listOffset,
		Works:  works,
	})
}
