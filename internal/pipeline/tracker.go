package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/intake/internal/events"
	"github.com/kalambet/intake/internal/storage"
)

const publishTimeout = 2 * time.Second

// Tracker owns the status of one record during a run. Every transition is
// persisted before the call returns and then published as an event. A
// Tracker is not safe for concurrent use; only the task running a record
// holds one.
type Tracker struct {
	store     *storage.Store
	publisher events.Publisher
	logger    *slog.Logger

	recordID string
	status   string
	current  string
	phases   map[string]*storage.PhaseRecord
}

// NewTracker returns a tracker seeded with the persisted state of a record.
func NewTracker(store *storage.Store, pub events.Publisher, logger *slog.Logger, rec storage.InputRecord, phases []storage.PhaseRecord) *Tracker {
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:     store,
		publisher: pub,
		logger:    logger,
		recordID:  rec.ID,
		status:    rec.OverallStatus,
		current:   rec.CurrentPhase,
		phases:    make(map[string]*storage.PhaseRecord, len(storage.Phases)),
	}
	for _, name := range storage.Phases {
		t.phases[name] = &storage.PhaseRecord{RecordID: rec.ID, Phase: name, Status: storage.PhasePending}
	}
	for _, p := range phases {
		if _, ok := t.phases[p.Phase]; ok {
			t.phases[p.Phase] = &p
		}
	}
	return t
}

// Status is the overall record status.
func (t *Tracker) Status() string { return t.status }

// PhaseStatus is the current status of phase.
func (t *Tracker) PhaseStatus(phase string) string {
	if p, ok := t.phases[phase]; ok {
		return p.Status
	}
	return ""
}

// Progress is the overall progress over all phases.
func (t *Tracker) Progress() int {
	list := make([]storage.PhaseRecord, 0, len(t.phases))
	for _, name := range storage.Phases {
		list = append(list, *t.phases[name])
	}
	return OverallProgress(list)
}

// Begin moves the record to processing. Any status may begin a new run.
func (t *Tracker) Begin(ctx context.Context) error {
	empty := ""
	status := storage.RecordProcessing
	if err := t.store.UpdateRecord(t.recordID, storage.RecordUpdate{OverallStatus: &status, ErrorMessage: &empty}); err != nil {
		return fmt.Errorf("beginning run for %s: %w", t.recordID, err)
	}
	t.status = status
	t.publish(ctx, t.current, nil)
	return nil
}

// Start moves phase to in_progress. Pending and failed phases may start;
// a phase left in_progress by an interrupted run may start again.
func (t *Tracker) Start(ctx context.Context, phase string, progress int) error {
	p, err := t.transition(phase, storage.PhaseInProgress,
		storage.PhasePending, storage.PhaseFailed, storage.PhaseInProgress)
	if err != nil {
		return err
	}
	p.Status = storage.PhaseInProgress
	p.Progress = max(p.Progress, progress)
	p.StartedAt = time.Now().UTC()
	p.CompletedAt = time.Time{}
	p.DurationSeconds = 0
	p.ErrorKind, p.ErrorMessage, p.ErrorDetail = "", "", ""
	return t.persist(ctx, p, storage.RecordUpdate{})
}

// Advance raises the progress of a phase that is in progress.
func (t *Tracker) Advance(ctx context.Context, phase string, progress int) error {
	p, err := t.transition(phase, storage.PhaseInProgress, storage.PhaseInProgress)
	if err != nil {
		return err
	}
	p.Progress = max(p.Progress, progress)
	return t.persist(ctx, p, storage.RecordUpdate{})
}

// Complete finishes an in-progress phase with data stored as phase_data.
func (t *Tracker) Complete(ctx context.Context, phase string, data any) error {
	p, err := t.transition(phase, storage.PhaseCompleted, storage.PhaseInProgress)
	if err != nil {
		return err
	}
	if err := t.setData(p, data); err != nil {
		return err
	}
	p.Status = storage.PhaseCompleted
	t.finishTiming(p)
	return t.persist(ctx, p, storage.RecordUpdate{})
}

// Skip marks a pending phase as not needed. Only translation can be skipped.
func (t *Tracker) Skip(ctx context.Context, phase string, data any) error {
	if phase != storage.PhaseTranslation {
		return fmt.Errorf("skipping %s: %w", phase, ErrIllegalTransition)
	}
	p, err := t.transition(phase, storage.PhaseSkipped, storage.PhasePending)
	if err != nil {
		return err
	}
	if err := t.setData(p, data); err != nil {
		return err
	}
	p.Status = storage.PhaseSkipped
	p.Progress = 100
	p.CompletedAt = time.Now().UTC()
	return t.persist(ctx, p, storage.RecordUpdate{})
}

// Fail records the failure of an in-progress phase and fails the record
// with the same message.
func (t *Tracker) Fail(ctx context.Context, phase string, kind Kind, msg string, detail any) error {
	p, err := t.transition(phase, storage.PhaseFailed, storage.PhaseInProgress)
	if err != nil {
		return err
	}
	p.Status = storage.PhaseFailed
	p.ErrorKind = string(kind)
	p.ErrorMessage = msg
	p.ErrorDetail = ""
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("encoding error detail: %w", err)
		}
		p.ErrorDetail = string(b)
	}
	t.finishTiming(p)

	status := storage.RecordFailed
	if err := t.persist(ctx, p, storage.RecordUpdate{OverallStatus: &status, ErrorMessage: &msg}); err != nil {
		return err
	}
	t.status = status
	return nil
}

// Finish completes the record. Every phase must be completed or skipped.
func (t *Tracker) Finish(ctx context.Context) error {
	if t.status != storage.RecordProcessing {
		return fmt.Errorf("finishing record in status %s: %w", t.status, ErrIllegalTransition)
	}
	for _, name := range storage.Phases {
		if s := t.phases[name].Status; s != storage.PhaseCompleted && s != storage.PhaseSkipped {
			return fmt.Errorf("finishing record with %s %s: %w", name, s, ErrIllegalTransition)
		}
	}
	status := storage.RecordCompleted
	now := time.Now().UTC()
	if err := t.store.UpdateRecord(t.recordID, storage.RecordUpdate{OverallStatus: &status, ProcessedAt: &now}); err != nil {
		return fmt.Errorf("completing record %s: %w", t.recordID, err)
	}
	t.status = status
	t.publish(ctx, t.current, nil)
	return nil
}

// Abort fails a record whose run stopped without a phase failure being
// recorded, for example when the store rejected a phase write. Phase rows are
// left as they are.
func (t *Tracker) Abort(ctx context.Context, kind Kind, msg string) error {
	status := storage.RecordFailed
	msg = string(kind) + ": " + msg
	if err := t.store.UpdateRecord(t.recordID, storage.RecordUpdate{OverallStatus: &status, ErrorMessage: &msg}); err != nil {
		return fmt.Errorf("aborting run for %s: %w", t.recordID, err)
	}
	t.status = status
	t.publish(ctx, t.current, nil)
	return nil
}

// transition checks that phase may move to `to` from its current status.
func (t *Tracker) transition(phase, to string, from ...string) (*storage.PhaseRecord, error) {
	p, ok := t.phases[phase]
	if !ok {
		return nil, fmt.Errorf("unknown phase %q: %w", phase, ErrIllegalTransition)
	}
	if t.status != storage.RecordProcessing {
		return nil, fmt.Errorf("%s -> %s while record is %s: %w", phase, to, t.status, ErrIllegalTransition)
	}
	for _, f := range from {
		if p.Status == f {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%s: %s -> %s: %w", phase, p.Status, to, ErrIllegalTransition)
}

func (t *Tracker) setData(p *storage.PhaseRecord, data any) error {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s data: %w", p.Phase, err)
	}
	p.Data = string(b)
	return nil
}

func (t *Tracker) finishTiming(p *storage.PhaseRecord) {
	p.CompletedAt = time.Now().UTC()
	if !p.StartedAt.IsZero() {
		p.DurationSeconds = p.CompletedAt.Sub(p.StartedAt).Seconds()
	}
	if p.Status == storage.PhaseCompleted {
		p.Progress = 100
	}
}

// persist writes the phase row and the record columns touched by it, then
// publishes the change.
func (t *Tracker) persist(ctx context.Context, p *storage.PhaseRecord, u storage.RecordUpdate) error {
	if err := t.store.UpsertPhase(*p); err != nil {
		return err
	}
	phase := p.Phase
	u.CurrentPhase = &phase
	if err := t.store.UpdateRecord(t.recordID, u); err != nil {
		return fmt.Errorf("updating record %s: %w", t.recordID, err)
	}
	t.current = phase
	t.publish(ctx, phase, p)
	return nil
}

func (t *Tracker) publish(ctx context.Context, phase string, p *storage.PhaseRecord) {
	ev := events.RecordUpdated{
		RecordID:  t.recordID,
		Status:    t.status,
		Phase:     phase,
		Progress:  t.Progress(),
		Timestamp: time.Now().UTC(),
	}
	if p != nil {
		ev.PhaseStatus = p.Status
		ev.ErrorKind = p.ErrorKind
		ev.ErrorMessage = p.ErrorMessage
		if p.Status == storage.PhaseFailed {
			ev.Status = storage.RecordFailed
		}
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := t.publisher.Publish(pubCtx, ev); err != nil {
		t.logger.Warn("tracker: publishing record update", "record_id", t.recordID, "phase", phase, "error", err)
	}
}
