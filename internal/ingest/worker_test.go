package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/intake/internal/pipeline"
	"github.com/kalambet/intake/internal/storage"
)

type mockRunner struct {
	mu    sync.Mutex
	ran   []string
	runFn func(ctx context.Context, id string) (pipeline.StatusView, error)
}

func (m *mockRunner) Run(ctx context.Context, id string) (pipeline.StatusView, error) {
	m.mu.Lock()
	m.ran = append(m.ran, id)
	m.mu.Unlock()
	if m.runFn != nil {
		return m.runFn(ctx, id)
	}
	return pipeline.StatusView{RecordID: id, Status: storage.RecordCompleted}, nil
}

func (m *mockRunner) Ran() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ran...)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestJob(t *testing.T, store *storage.Store, jobID, payload string, maxAttempts int) {
	t.Helper()
	job := storage.Job{
		ID:          jobID,
		Type:        pipeline.JobTypeProcess,
		PayloadJSON: payload,
		MaxAttempts: maxAttempts,
	}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func recordPayload(id string) string {
	b, _ := json.Marshal(pipeline.JobPayload{RecordID: id})
	return string(b)
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-1", recordPayload("rec-1"), 0)

	runner := &mockRunner{}
	w := NewWorker(store, runner, 0, 1)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if got := runner.Ran(); len(got) != 1 || got[0] != "rec-1" {
		t.Errorf("ran = %v, want [rec-1]", got)
	}

	job, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockRunner{}, 0, 1)

	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_FailedPhaseCompletesJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-f", recordPayload("rec-f"), 0)

	w := NewWorker(store, &mockRunner{
		runFn: func(_ context.Context, id string) (pipeline.StatusView, error) {
			return pipeline.StatusView{RecordID: id, Status: storage.RecordFailed}, nil
		},
	}, 0, 1)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	job, _ := store.GetJob("job-f")
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
}

func TestWorker_RetryOnRunError(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-r", recordPayload("rec-r"), 3)

	w := NewWorker(store, &mockRunner{
		runFn: func(_ context.Context, _ string) (pipeline.StatusView, error) {
			return pipeline.StatusView{}, errors.New("database is locked")
		},
	}, 0, 1)

	didWork, err := w.RunOnce(context.Background())
	if err != nil || !didWork {
		t.Fatalf("RunOnce = %v, %v", didWork, err)
	}

	job, _ := store.GetJob("job-r")
	if job.Status != "pending" || job.Attempts != 1 {
		t.Errorf("after fail: status=%q attempts=%d, want pending/1", job.Status, job.Attempts)
	}
	if job.LastError == "" {
		t.Error("LastError is empty")
	}
	if !job.RunAfter.After(time.Now()) {
		t.Errorf("RunAfter = %v, want backoff in the future", job.RunAfter)
	}

	// The backoff keeps the job out of reach of the next claim.
	didWork, _ = w.RunOnce(context.Background())
	if didWork {
		t.Error("job claimed again during backoff")
	}
}

func TestWorker_MaxAttemptsExceeded(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-m", recordPayload("rec-m"), 1)

	w := NewWorker(store, &mockRunner{
		runFn: func(_ context.Context, _ string) (pipeline.StatusView, error) {
			return pipeline.StatusView{}, fmt.Errorf("loading record: %w", storage.ErrNotFound)
		},
	}, 0, 1)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	job, _ := store.GetJob("job-m")
	if job.Status != "failed" {
		t.Errorf("final status = %q, want failed", job.Status)
	}
}

func TestWorker_BadPayload(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-bad", `{"record_id":""}`, 1)
	runner := &mockRunner{}
	w := NewWorker(store, runner, 0, 1)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(runner.Ran()) != 0 {
		t.Error("runner called for empty record id")
	}
	job, _ := store.GetJob("job-bad")
	if job.Status != "failed" {
		t.Errorf("status = %q, want failed", job.Status)
	}
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	store := openTestStore(t)
	const total = 12
	for i := 0; i < total; i++ {
		enqueueTestJob(t, store, fmt.Sprintf("job-%d", i), recordPayload(fmt.Sprintf("rec-%d", i)), 0)
	}

	runner := &mockRunner{}
	w := NewWorker(store, runner, 10*time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(runner.Ran()) < total && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	ran := runner.Ran()
	if len(ran) != total {
		t.Fatalf("ran %d jobs, want %d", len(ran), total)
	}
	seen := make(map[string]bool, total)
	for _, id := range ran {
		if seen[id] {
			t.Errorf("record %s ran twice", id)
		}
		seen[id] = true
	}
}

func TestWorker_RequeuesOrphanedJobs(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-o", recordPayload("rec-o"), 0)
	// Simulate a crash after the claim.
	if job, err := store.ClaimNextJob([]string{pipeline.JobTypeProcess}); err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}

	runner := &mockRunner{}
	w := NewWorker(store, runner, 10*time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(runner.Ran()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := runner.Ran(); len(got) != 1 || got[0] != "rec-o" {
		t.Errorf("ran = %v, want [rec-o]", got)
	}
}

func TestWorker_ShutdownLeavesJobForRequeue(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-s", recordPayload("rec-s"), 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(store, &mockRunner{
		runFn: func(ctx context.Context, _ string) (pipeline.StatusView, error) {
			// Shutdown arrives while the record waits for a processing slot.
			cancel()
			return pipeline.StatusView{}, fmt.Errorf("waiting for a processing slot: %w", ctx.Err())
		},
	}, 0, 1)

	didWork, err := w.RunOnce(ctx)
	if err != nil || !didWork {
		t.Fatalf("RunOnce = %v, %v", didWork, err)
	}
	job, _ := store.GetJob("job-s")
	if job.Status != "running" || job.Attempts != 0 || job.LastError != "" {
		t.Errorf("after shutdown: status=%q attempts=%d last_error=%q, want running/0/empty", job.Status, job.Attempts, job.LastError)
	}

	if _, err := store.RequeueRunningJobs(); err != nil {
		t.Fatalf("RequeueRunningJobs: %v", err)
	}
	runner := &mockRunner{}
	if _, err := NewWorker(store, runner, 0, 1).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce after restart: %v", err)
	}
	if got := runner.Ran(); len(got) != 1 || got[0] != "rec-s" {
		t.Errorf("ran = %v, want [rec-s]", got)
	}
	job, _ = store.GetJob("job-s")
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
}

func TestWorker_AlreadyProcessingRetriesLater(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-a", recordPayload("rec-a"), 3)

	w := NewWorker(store, &mockRunner{
		runFn: func(_ context.Context, id string) (pipeline.StatusView, error) {
			return pipeline.StatusView{}, fmt.Errorf("running %s: %w", id, pipeline.ErrAlreadyProcessing)
		},
	}, 0, 1)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	job, _ := store.GetJob("job-a")
	if job.Status != "pending" || job.Attempts != 1 {
		t.Errorf("status=%q attempts=%d, want pending/1", job.Status, job.Attempts)
	}
}
