package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var downloadLimit int

func init() {
	downloadCmd.Flags().IntVar(&downloadLimit, "limit", 5, "Maximum number of records to download")
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download documents for enriched records",
	Long: `Mark a batch of enriched records for download, then walk the
configured source chain for each queued record. Successful downloads
land in done with the document path and checksum; records whose
sources are all exhausted move to failed_download with the last
failure recorded. Nothing is retried automatically; use retry.`,
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()
	ctx := cmd.Context()

	queued, err := a.pipe.QueueBatch(ctx, downloadLimit)
	if err != nil {
		exitWithError(ExitError, "queueing: %v", err)
	}
	sum, err := a.pipe.DownloadBatch(ctx, downloadLimit)
	if err != nil {
		exitWithError(ExitError, "downloading: %v", err)
	}

	type downloadResult struct {
		Queued    int `json:"queued"`
		Processed int `json:"processed"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	result := downloadResult{
		Queued:    queued.Succeeded,
		Processed: sum.Processed,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
	}

	if humanOutput {
		fmt.Printf("queued %d, downloaded %d of %d (%d failed)\n",
			result.Queued, result.Succeeded, result.Processed, result.Failed)
	} else {
		outputJSON(result)
	}
	return nil
}
