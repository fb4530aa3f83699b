// Package pipeline runs submitted text through validation, language
// detection, translation and preprocessing, recording the status of every
// phase as it goes.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/intake/internal/detect"
	"github.com/kalambet/intake/internal/events"
	"github.com/kalambet/intake/internal/preprocess"
	"github.com/kalambet/intake/internal/storage"
	"github.com/kalambet/intake/internal/translate"
	"github.com/kalambet/intake/internal/validate"
)

// JobTypeProcess is the queue job that runs one record.
const JobTypeProcess = "process_input"

const archiveTimeout = 10 * time.Second

// Progress a phase reports when it starts.
var startProgress = map[string]int{
	storage.PhaseValidation:    10,
	storage.PhaseDetection:     25,
	storage.PhaseTranslation:   30,
	storage.PhasePreprocessing: 50,
}

// translationSavedProgress marks a translation that is stored but not yet
// acknowledged as complete.
const translationSavedProgress = 75

// ErrAlreadyProcessing is returned when a record is asked to run while
// another run of it is in flight.
var ErrAlreadyProcessing = errors.New("record is already processing")

// Submission is text handed to the pipeline.
type Submission struct {
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// Accepted acknowledges a submission.
type Accepted struct {
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
}

// JobPayload is the JSON payload of a process_input job.
type JobPayload struct {
	RecordID string `json:"record_id"`
}

// Archiver stores a JSON snapshot of a completed record.
type Archiver interface {
	Archive(ctx context.Context, recordID string, doc []byte) error
}

// Deps are the collaborators of an Orchestrator. Publisher and Archiver
// are optional.
type Deps struct {
	Store      *storage.Store
	Validator  *validate.Validator
	Detector   *detect.Detector
	Translator *translate.Translator
	Normalizer *preprocess.Normalizer
	Publisher  events.Publisher
	Archiver   Archiver
	Logger     *slog.Logger
}

// Options tunes a run.
type Options struct {
	TargetLanguage string
	Deadline       time.Duration
	Concurrency    int
}

// Orchestrator sequences the phases of a record.
type Orchestrator struct {
	store      *storage.Store
	validator  *validate.Validator
	detector   *detect.Detector
	translator *translate.Translator
	normalizer *preprocess.Normalizer
	publisher  events.Publisher
	archiver   Archiver
	logger     *slog.Logger

	target      string
	deadline    time.Duration
	concurrency int
	sem         *semaphore.Weighted

	mu       sync.Mutex
	running  map[string]struct{}
	inFlight sync.WaitGroup
}

// New returns an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = "en"
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 60 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	pub := deps.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       deps.Store,
		validator:   deps.Validator,
		detector:    deps.Detector,
		translator:  deps.Translator,
		normalizer:  deps.Normalizer,
		publisher:   pub,
		archiver:    deps.Archiver,
		logger:      logger,
		target:      detect.Canonical(opts.TargetLanguage),
		deadline:    opts.Deadline,
		concurrency: opts.Concurrency,
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		running:     make(map[string]struct{}),
	}
}

// Validate checks text without persisting anything.
func (o *Orchestrator) Validate(text string) validate.Result {
	return o.validator.Validate(text)
}

// Process stores a new record for sub. With wait it runs the record before
// returning; otherwise it queues a job and returns a pending status.
func (o *Orchestrator) Process(ctx context.Context, sub Submission, wait bool) (Accepted, error) {
	id := uuid.NewString()
	err := o.store.CreateRecord(storage.InputRecord{
		ID:        id,
		RawText:   sub.Text,
		UserID:    strings.TrimSpace(sub.UserID),
		SessionID: strings.TrimSpace(sub.SessionID),
	})
	if err != nil {
		return Accepted{}, fmt.Errorf("creating record: %w", err)
	}
	o.logger.Info("pipeline: record created", "record_id", id, "user_id", sub.UserID, "wait", wait)
	return o.dispatch(ctx, id, wait)
}

// Reprocess runs an existing record again. Completed and skipped phases are
// kept; a failed phase is retried.
func (o *Orchestrator) Reprocess(ctx context.Context, recordID string, wait bool) (Accepted, error) {
	if _, err := o.store.GetRecord(recordID); err != nil {
		return Accepted{}, fmt.Errorf("loading record %s: %w", recordID, err)
	}
	if o.isRunning(recordID) {
		return Accepted{RecordID: recordID, Status: storage.RecordProcessing}, ErrAlreadyProcessing
	}
	return o.dispatch(ctx, recordID, wait)
}

func (o *Orchestrator) dispatch(ctx context.Context, id string, wait bool) (Accepted, error) {
	if !wait {
		if err := o.Enqueue(id); err != nil {
			return Accepted{RecordID: id, Status: storage.RecordPending}, err
		}
		return Accepted{RecordID: id, Status: storage.RecordPending}, nil
	}
	view, err := o.Run(ctx, id)
	if err != nil {
		return Accepted{RecordID: id, Status: view.Status}, err
	}
	return Accepted{RecordID: id, Status: view.Status}, nil
}

// Enqueue adds a process_input job for recordID.
func (o *Orchestrator) Enqueue(recordID string) error {
	payload, err := json.Marshal(JobPayload{RecordID: recordID})
	if err != nil {
		return err
	}
	if err := o.store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeProcess,
		PayloadJSON: string(payload),
	}); err != nil {
		return fmt.Errorf("queueing record %s: %w", recordID, err)
	}
	return nil
}

// ProcessBatch submits every item, running at most Concurrency at a time.
// Results keep the order of subs.
func (o *Orchestrator) ProcessBatch(ctx context.Context, subs []Submission, wait bool) ([]Accepted, error) {
	results := make([]Accepted, len(subs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, sub := range subs {
		g.Go(func() error {
			acc, err := o.Process(gCtx, sub, wait)
			if err != nil {
				return fmt.Errorf("submission %d: %w", i, err)
			}
			results[i] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// GetStatus returns the summary or detailed view of a record.
func (o *Orchestrator) GetStatus(recordID string, detailed bool) (StatusView, error) {
	rec, err := o.store.GetRecord(recordID)
	if err != nil {
		return StatusView{}, err
	}
	phases, err := o.store.GetPhases(recordID)
	if err != nil {
		return StatusView{}, fmt.Errorf("loading phases of %s: %w", recordID, err)
	}
	return buildStatus(rec, phases, detailed), nil
}

// ListByUser returns summary views of a user's records, newest first.
func (o *Orchestrator) ListByUser(userID string, limit int) ([]StatusView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	recs, err := o.store.ListRecordsByUser(userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing records of %s: %w", userID, err)
	}
	views := make([]StatusView, 0, len(recs))
	for _, rec := range recs {
		phases, err := o.store.GetPhases(rec.ID)
		if err != nil {
			return nil, fmt.Errorf("loading phases of %s: %w", rec.ID, err)
		}
		views = append(views, buildStatus(rec, phases, false))
	}
	return views, nil
}

// ProviderReport lists the detection and translation chains in order.
type ProviderReport struct {
	DetectionMethods   []string                   `json:"detection_methods"`
	TranslationChain   []translate.ProviderStatus `json:"translation_providers"`
	TargetLanguage     string                     `json:"target_language"`
	AvailableProviders int                        `json:"available_providers"`
}

// Providers reports the configured chains.
func (o *Orchestrator) Providers() ProviderReport {
	r := ProviderReport{
		DetectionMethods: o.detector.Methods(),
		TranslationChain: o.translator.Providers(),
		TargetLanguage:   o.target,
	}
	for _, p := range r.TranslationChain {
		if p.Available {
			r.AvailableProviders++
		}
	}
	return r
}

// runState carries phase outputs forward within a run.
type runState struct {
	rec      storage.InputRecord
	language string
	text     string
}

type step struct {
	phase string
	run   func(context.Context, *Tracker, *runState) error
}

// claim marks recordID as running. It reports false if a run already holds it.
func (o *Orchestrator) claim(recordID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[recordID]; ok {
		return false
	}
	o.running[recordID] = struct{}{}
	o.inFlight.Add(1)
	return true
}

func (o *Orchestrator) release(recordID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, recordID)
	o.inFlight.Done()
}

// Wait blocks until every run in flight has returned.
func (o *Orchestrator) Wait() {
	o.inFlight.Wait()
}

func (o *Orchestrator) isRunning(recordID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[recordID]
	return ok
}

// Run processes or resumes a record and returns its summary status. A
// failed phase is reported through the status, not the error; the error is
// for store failures, for a record that is already running and for a
// context cancelled before the run began.
//
// Once started, a run is bounded by the deadline only: cancelling ctx does
// not interrupt it.
func (o *Orchestrator) Run(ctx context.Context, recordID string) (StatusView, error) {
	if !o.claim(recordID) {
		return StatusView{}, fmt.Errorf("running %s: %w", recordID, ErrAlreadyProcessing)
	}
	defer o.release(recordID)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return StatusView{}, fmt.Errorf("waiting for a processing slot: %w", err)
	}
	defer o.sem.Release(1)

	rec, err := o.store.GetRecord(recordID)
	if err != nil {
		return StatusView{}, fmt.Errorf("loading record %s: %w", recordID, err)
	}
	phases, err := o.store.GetPhases(recordID)
	if err != nil {
		return StatusView{}, fmt.Errorf("loading phases of %s: %w", recordID, err)
	}
	if rec.OverallStatus == storage.RecordCompleted && allSettled(phases) {
		return buildStatus(rec, phases, false), nil
	}

	logger := o.logger.With("record_id", recordID)
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.deadline)
	defer cancel()

	t := NewTracker(o.store, o.publisher, logger, rec, phases)
	if err := t.Begin(runCtx); err != nil {
		return StatusView{}, err
	}

	start := time.Now()
	st := &runState{rec: rec, text: rec.RawText}
	steps := []step{
		{storage.PhaseValidation, o.runValidation},
		{storage.PhaseDetection, o.runDetection},
		{storage.PhaseTranslation, o.runTranslation},
		{storage.PhasePreprocessing, o.runPreprocessing},
	}

	for _, s := range steps {
		err := s.run(runCtx, t, st)
		if err == nil {
			continue
		}
		if t.PhaseStatus(s.phase) != storage.PhaseInProgress {
			o.abort(runCtx, t, logger, s.phase, err)
			return StatusView{}, err
		}
		pe := classify(s.phase, err)
		if ferr := t.Fail(runCtx, s.phase, pe.Kind, pe.Message, pe.Detail); ferr != nil {
			o.abort(runCtx, t, logger, s.phase, ferr)
			return StatusView{}, fmt.Errorf("recording %s failure: %w", s.phase, ferr)
		}
		logger.Warn("pipeline: phase failed", "phase", s.phase, "kind", pe.Kind, "error", pe.Message)
		return o.GetStatus(recordID, false)
	}

	if err := t.Finish(runCtx); err != nil {
		o.abort(runCtx, t, logger, storage.PhasePreprocessing, err)
		return StatusView{}, err
	}
	logger.Info("pipeline: record completed", "duration", time.Since(start))
	o.archive(ctx, recordID, logger)
	return o.GetStatus(recordID, false)
}

// abort is the last resort for a run that could not record its outcome. It
// leaves the record failed rather than processing.
func (o *Orchestrator) abort(ctx context.Context, t *Tracker, logger *slog.Logger, phase string, cause error) {
	logger.Error("pipeline: run aborted", "phase", phase, "error", cause)
	if t.Status() != storage.RecordProcessing {
		return
	}
	if err := t.Abort(ctx, KindInternal, fmt.Sprintf("%s: %v", phase, cause)); err != nil {
		logger.Error("pipeline: marking record failed", "error", err)
	}
}

func (o *Orchestrator) runValidation(ctx context.Context, t *Tracker, st *runState) error {
	if settled(t.PhaseStatus(storage.PhaseValidation)) {
		return nil
	}
	if err := t.Start(ctx, storage.PhaseValidation, startProgress[storage.PhaseValidation]); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res := o.validator.Validate(st.rec.RawText)
	if !res.IsValid {
		return &PhaseError{
			Phase:   storage.PhaseValidation,
			Kind:    KindValidation,
			Message: res.Error(),
			Detail:  map[string]any{"errors": res.Errors, "warnings": res.Warnings},
		}
	}
	return t.Complete(ctx, storage.PhaseValidation, map[string]any{
		"is_valid": true,
		"length":   res.Length,
		"warnings": res.Warnings,
	})
}

type detectionData struct {
	Language   string           `json:"language"`
	Confidence string           `json:"confidence"`
	Method     string           `json:"method"`
	CacheHit   bool             `json:"cache_hit"`
	Degraded   bool             `json:"degraded"`
	Attempts   []detect.Attempt `json:"attempts,omitempty"`
}

func (o *Orchestrator) runDetection(ctx context.Context, t *Tracker, st *runState) error {
	if settled(t.PhaseStatus(storage.PhaseDetection)) && st.rec.DetectedLanguage != "" {
		st.language = st.rec.DetectedLanguage
		return nil
	}
	if err := t.Start(ctx, storage.PhaseDetection, startProgress[storage.PhaseDetection]); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := o.detector.Detect(ctx, st.rec.RawText)
	if err != nil {
		return err
	}
	conf := storage.FormatConfidence(res.Confidence)
	if err := o.store.UpdateRecord(st.rec.ID, storage.RecordUpdate{
		DetectedLanguage:   &res.Language,
		LanguageConfidence: &conf,
	}); err != nil {
		return fmt.Errorf("saving detected language: %w", err)
	}
	st.language = res.Language
	return t.Complete(ctx, storage.PhaseDetection, detectionData{
		Language:   res.Language,
		Confidence: conf,
		Method:     res.Method,
		CacheHit:   res.CacheHit,
		Degraded:   res.Degraded,
		Attempts:   res.Attempts,
	})
}

type translationData struct {
	Provider   string              `json:"provider"`
	Confidence string              `json:"confidence"`
	CacheHit   bool                `json:"cache_hit"`
	Attempts   []translate.Attempt `json:"attempts,omitempty"`
}

func (o *Orchestrator) runTranslation(ctx context.Context, t *Tracker, st *runState) error {
	switch t.PhaseStatus(storage.PhaseTranslation) {
	case storage.PhaseSkipped:
		return nil
	case storage.PhaseCompleted:
		var prev storage.TranslationResult
		if err := json.Unmarshal([]byte(st.rec.TranslationResult), &prev); err == nil && prev.TranslatedText != "" {
			st.text = prev.TranslatedText
			return nil
		}
	}

	if detect.Canonical(st.language) == o.target && t.PhaseStatus(storage.PhaseTranslation) == storage.PhasePending {
		return t.Skip(ctx, storage.PhaseTranslation, map[string]any{
			"reason":          "source language matches target",
			"source_language": st.language,
		})
	}

	if err := t.Start(ctx, storage.PhaseTranslation, startProgress[storage.PhaseTranslation]); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := o.translator.Translate(ctx, st.rec.RawText, st.language, o.target)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(storage.TranslationResult{
		TranslatedText: res.Text,
		Provider:       res.Provider,
		Confidence:     storage.FormatConfidence(res.Confidence),
		SourceLanguage: st.language,
		TargetLanguage: o.target,
	})
	if err != nil {
		return err
	}
	result := string(doc)
	if err := o.store.UpdateRecord(st.rec.ID, storage.RecordUpdate{TranslationResult: &result}); err != nil {
		return fmt.Errorf("saving translation: %w", err)
	}
	if err := t.Advance(ctx, storage.PhaseTranslation, translationSavedProgress); err != nil {
		return err
	}
	st.text = res.Text
	return t.Complete(ctx, storage.PhaseTranslation, translationData{
		Provider:   res.Provider,
		Confidence: storage.FormatConfidence(res.Confidence),
		CacheHit:   res.CacheHit,
		Attempts:   res.Attempts,
	})
}

func (o *Orchestrator) runPreprocessing(ctx context.Context, t *Tracker, st *runState) error {
	if settled(t.PhaseStatus(storage.PhasePreprocessing)) && st.rec.ProcessedText != "" {
		return nil
	}
	if err := t.Start(ctx, storage.PhasePreprocessing, startProgress[storage.PhasePreprocessing]); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := o.normalizer.Normalize(st.text)
	if err != nil {
		return &PhaseError{Phase: storage.PhasePreprocessing, Kind: KindPreprocessing, Message: err.Error(), Err: err}
	}
	if err := o.store.UpdateRecord(st.rec.ID, storage.RecordUpdate{ProcessedText: &res.Text}); err != nil {
		return fmt.Errorf("saving processed text: %w", err)
	}
	return t.Complete(ctx, storage.PhasePreprocessing, map[string]any{
		"steps":         res.Steps,
		"removed_chars": res.RemovedChars,
		"removed_count": res.RemovedCount,
		"corrections":   res.Corrections,
	})
}

// archive uploads the detailed view of a completed record. Failures are
// logged; the record stays completed.
func (o *Orchestrator) archive(ctx context.Context, recordID string, logger *slog.Logger) {
	if o.archiver == nil {
		return
	}
	view, err := o.GetStatus(recordID, true)
	if err != nil {
		logger.Warn("pipeline: loading record for archive", "error", err)
		return
	}
	doc, err := json.Marshal(view)
	if err != nil {
		logger.Warn("pipeline: encoding archive snapshot", "error", err)
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := o.archiver.Archive(actx, recordID, doc); err != nil {
		logger.Warn("pipeline: archiving record", "error", err)
	}
}

func settled(status string) bool {
	return status == storage.PhaseCompleted || status == storage.PhaseSkipped
}

func allSettled(phases []storage.PhaseRecord) bool {
	if len(phases) != len(storage.Phases) {
		return false
	}
	for _, p := range phases {
		if !settled(p.Status) {
			return false
		}
	}
	return true
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
