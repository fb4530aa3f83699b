// Package ingest drains the job queue of records submitted without waiting.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/intake/internal/pipeline"
	"github.com/kalambet/intake/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	RequeueRunningJobs() (int64, error)
}

// RecordRunner runs one record through the pipeline.
type RecordRunner interface {
	Run(ctx context.Context, recordID string) (pipeline.StatusView, error)
}

// Worker processes process_input jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	runner   RecordRunner
	poll     time.Duration
	parallel int
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms; parallel defaults to 1.
func NewWorker(store JobStore, runner RecordRunner, pollInterval time.Duration, parallel int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if parallel < 1 {
		parallel = 1
	}
	return &Worker{
		store:    store,
		runner:   runner,
		poll:     pollInterval,
		parallel: parallel,
		logger:   slog.Default(),
	}
}

// WithLogger replaces the default logger.
func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	if l != nil {
		w.logger = l
	}
	return w
}

// Run requeues jobs orphaned by a previous process and polls for jobs until
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs(); err != nil {
		w.logger.Error("requeueing orphaned jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued orphaned jobs", "count", n)
	}

	var wg sync.WaitGroup
	for i := 0; i < w.parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single process_input job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{pipeline.JobTypeProcess})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		if ctx.Err() != nil {
			// Shutting down before the record ran. The job stays running and
			// RequeueRunningJobs picks it up on the next start.
			w.logger.Info("job interrupted by shutdown", "job_id", job.ID, "error", err)
			return true, nil
		}
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// processJob runs the record named by the job. A failed phase is a finished
// job; the record carries the failure and is retried only by reprocessing.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload pipeline.JobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.RecordID == "" {
		return fmt.Errorf("payload has no record_id")
	}

	view, err := w.runner.Run(ctx, payload.RecordID)
	if err != nil {
		return fmt.Errorf("running record %s: %w", payload.RecordID, err)
	}
	w.logger.Info("record processed", "job_id", job.ID, "record_id", payload.RecordID, "status", view.Status)
	return nil
}
