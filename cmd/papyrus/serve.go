package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tlawson/papyrus/internal/pipeline"
	"github.com/tlawson/papyrus/internal/worker"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline workers until interrupted",
	Long: `Run the supervised pipeline loops: enrichment, queueing, and
download, each on its configured interval and batch size. Loops are
strictly sequential per stage; a tick that lands while the previous
batch is still running is skipped.

The first interrupt stops the timers and lets in-flight batches
finish; a second interrupt cancels them.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a := requireRepo()
	defer a.store.Close()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sup := worker.NewSupervisor()

	tasks := map[string]worker.Task{
		"enrich": func(ctx context.Context, batchSize int) (string, error) {
			sum, err := a.pipe.EnrichBatch(ctx, batchSize)
			return summaryLine(sum), err
		},
		"queue": func(ctx context.Context, batchSize int) (string, error) {
			sum, err := a.pipe.QueueBatch(ctx, batchSize)
			return summaryLine(sum), err
		},
		"download": func(ctx context.Context, batchSize int) (string, error) {
			sum, err := a.pipe.DownloadBatch(ctx, batchSize)
			return summaryLine(sum), err
		},
	}

	for key, wc := range a.cfg.Workers {
		task, ok := tasks[key]
		if !ok {
			log.Warn("no task for configured worker, skipping", "key", key)
			continue
		}
		if err := sup.Register(key, task, wc.Interval, wc.BatchSize); err != nil {
			exitWithError(ExitConfigError, "registering worker %s: %v", key, err)
		}
		if err := sup.Start(key); err != nil {
			exitWithError(ExitError, "starting worker %s: %v", key, err)
		}
		log.Info("worker started", "key", key, "interval", wc.Interval, "batch_size", wc.BatchSize)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	log.Info("shutting down, in-flight batches will finish")
	go func() {
		<-sigCh
		log.Warn("second interrupt, canceling in-flight batches")
		for _, st := range sup.StatusAll() {
			sup.ForceStop(st.Key)
		}
	}()
	sup.Shutdown()

	for _, st := range sup.StatusAll() {
		log.Info("worker stopped", "key", st.Key, "last_result", st.LastResult, "last_error", st.LastError)
	}
	return nil
}

func summaryLine(sum *pipeline.Summary) string {
	if sum == nil {
		return ""
	}
	return fmt.Sprintf("processed=%d succeeded=%d failed=%d",
		sum.Processed, sum.Succeeded, sum.Failed)
}
