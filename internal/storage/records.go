package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var recordColumns = []string{
	"id", "raw_text", "user_id", "session_id", "detected_language", "language_confidence",
	"translation_result", "processed_text", "overall_status", "current_phase", "error_message",
	"created_at", "updated_at", "processed_at",
}

var phaseColumns = []string{
	"record_id", "phase", "status", "progress_percentage", "phase_data", "error_kind",
	"error_message", "error_detail", "started_at", "completed_at", "duration_seconds", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateRecord inserts a new record together with a pending row for every phase.
func (s *Store) CreateRecord(r InputRecord) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	status := r.OverallStatus
	if status == "" {
		status = RecordPending
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sq.Insert("input_records").
		Columns("id", "raw_text", "user_id", "session_id", "overall_status", "current_phase", "created_at", "updated_at").
		Values(r.ID, r.RawText, r.UserID, r.SessionID, status, "", formatTime(r.CreatedAt), formatTime(now)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building record insert: %w", err)
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("inserting record %s: %w", r.ID, err)
	}

	ins := s.sq.Insert("processing_phases").Columns("record_id", "phase", "status", "progress_percentage", "updated_at")
	for _, p := range Phases {
		ins = ins.Values(r.ID, p, PhasePending, 0, formatTime(now))
	}
	query, args, err = ins.ToSql()
	if err != nil {
		return fmt.Errorf("building phase insert: %w", err)
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("inserting phases for %s: %w", r.ID, err)
	}

	return tx.Commit()
}

// GetRecord loads a record by id.
func (s *Store) GetRecord(id string) (InputRecord, error) {
	query, args, err := s.sq.Select(recordColumns...).From("input_records").Where(sq.Eq{"id": id}).Limit(1).ToSql()
	if err != nil {
		return InputRecord{}, fmt.Errorf("building record query: %w", err)
	}
	r, err := scanRecord(s.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return InputRecord{}, ErrNotFound
	}
	return r, err
}

// ListRecordsByUser returns a user's records, newest first.
func (s *Store) ListRecordsByUser(userID string, limit int) ([]InputRecord, error) {
	query, args, err := s.sq.Select(recordColumns...).From("input_records").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []InputRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// UpdateRecord writes the non-nil fields of u and bumps updated_at.
func (s *Store) UpdateRecord(id string, u RecordUpdate) error {
	b := s.sq.Update("input_records").Set("updated_at", formatTime(time.Now())).Where(sq.Eq{"id": id})
	if u.DetectedLanguage != nil {
		b = b.Set("detected_language", nullString(*u.DetectedLanguage))
	}
	if u.LanguageConfidence != nil {
		b = b.Set("language_confidence", nullString(*u.LanguageConfidence))
	}
	if u.TranslationResult != nil {
		b = b.Set("translation_result", nullString(*u.TranslationResult))
	}
	if u.ProcessedText != nil {
		b = b.Set("processed_text", nullString(*u.ProcessedText))
	}
	if u.OverallStatus != nil {
		b = b.Set("overall_status", *u.OverallStatus)
	}
	if u.CurrentPhase != nil {
		b = b.Set("current_phase", *u.CurrentPhase)
	}
	if u.ErrorMessage != nil {
		b = b.Set("error_message", nullString(*u.ErrorMessage))
	}
	if u.ProcessedAt != nil {
		b = b.Set("processed_at", nullTime(*u.ProcessedAt))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building record update: %w", err)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPhase writes the phase row keyed by (record_id, phase). Progress never
// moves backwards and started_at survives updates that don't carry one.
func (s *Store) UpsertPhase(p PhaseRecord) error {
	now := time.Now().UTC()
	var duration sql.NullFloat64
	if !p.CompletedAt.IsZero() {
		duration = sql.NullFloat64{Float64: p.DurationSeconds, Valid: true}
	}

	query, args, err := s.sq.Insert("processing_phases").
		Columns(phaseColumns...).
		Values(
			p.RecordID, p.Phase, p.Status, p.Progress, nullString(p.Data), nullString(p.ErrorKind),
			nullString(p.ErrorMessage), nullString(p.ErrorDetail), nullTime(p.StartedAt),
			nullTime(p.CompletedAt), duration, formatTime(now),
		).
		Suffix(`ON CONFLICT(record_id, phase) DO UPDATE SET
			status = excluded.status,
			progress_percentage = MAX(processing_phases.progress_percentage, excluded.progress_percentage),
			phase_data = COALESCE(excluded.phase_data, processing_phases.phase_data),
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			error_detail = excluded.error_detail,
			started_at = COALESCE(excluded.started_at, processing_phases.started_at),
			completed_at = excluded.completed_at,
			duration_seconds = excluded.duration_seconds,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building phase upsert: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("upserting phase %s/%s: %w", p.RecordID, p.Phase, err)
	}
	return nil
}

// GetPhases returns the phase rows of a record in execution order.
func (s *Store) GetPhases(recordID string) ([]PhaseRecord, error) {
	query, args, err := s.sq.Select(phaseColumns...).From("processing_phases").Where(sq.Eq{"record_id": recordID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building phase query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phases []PhaseRecord
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(phases, func(i, j int) bool {
		return phaseIndex(phases[i].Phase) < phaseIndex(phases[j].Phase)
	})
	return phases, nil
}

func phaseIndex(name string) int {
	for i, p := range Phases {
		if p == name {
			return i
		}
	}
	return len(Phases)
}

func scanRecord(row rowScanner) (InputRecord, error) {
	var r InputRecord
	var lang, conf, translation, processed, errMsg, processedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(
		&r.ID, &r.RawText, &r.UserID, &r.SessionID, &lang, &conf,
		&translation, &processed, &r.OverallStatus, &r.CurrentPhase, &errMsg,
		&createdAt, &updatedAt, &processedAt,
	); err != nil {
		return InputRecord{}, err
	}
	r.DetectedLanguage = lang.String
	r.LanguageConfidence = conf.String
	r.TranslationResult = translation.String
	r.ProcessedText = processed.String
	r.ErrorMessage = errMsg.String

	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return InputRecord{}, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return InputRecord{}, fmt.Errorf("parsing updated_at for %s: %w", r.ID, err)
	}
	if r.ProcessedAt, err = parseTime(processedAt); err != nil {
		return InputRecord{}, fmt.Errorf("parsing processed_at for %s: %w", r.ID, err)
	}
	return r, nil
}

func scanPhase(row rowScanner) (PhaseRecord, error) {
	var p PhaseRecord
	var data, kind, msg, detail, startedAt, completedAt sql.NullString
	var duration sql.NullFloat64
	var updatedAt string
	if err := row.Scan(
		&p.RecordID, &p.Phase, &p.Status, &p.Progress, &data, &kind,
		&msg, &detail, &startedAt, &completedAt, &duration, &updatedAt,
	); err != nil {
		return PhaseRecord{}, err
	}
	p.Data = data.String
	p.ErrorKind = kind.String
	p.ErrorMessage = msg.String
	p.ErrorDetail = detail.String
	p.DurationSeconds = duration.Float64

	var err error
	if p.StartedAt, err = parseTime(startedAt); err != nil {
		return PhaseRecord{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if p.CompletedAt, err = parseTime(completedAt); err != nil {
		return PhaseRecord{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return PhaseRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}
