package pipeline

import (
	"encoding/json"
	"time"

	"github.com/kalambet/intake/internal/storage"
)

// StatusView is what callers see of a record. The summary view carries the
// first five fields; the detailed view fills in the rest.
type StatusView struct {
	RecordID     string `json:"record_id"`
	Status       string `json:"status"`
	CurrentPhase string `json:"current_phase"`
	Progress     int    `json:"progress"`
	Error        string `json:"error,omitempty"`

	Phases             []PhaseView                `json:"phases,omitempty"`
	DetectedLanguage   string                     `json:"detected_language,omitempty"`
	LanguageConfidence string                     `json:"language_confidence,omitempty"`
	Translation        *storage.TranslationResult `json:"translation,omitempty"`
	ProcessedText      string                     `json:"processed_text,omitempty"`
	CreatedAt          *time.Time                 `json:"created_at,omitempty"`
	UpdatedAt          *time.Time                 `json:"updated_at,omitempty"`
	ProcessedAt        *time.Time                 `json:"processed_at,omitempty"`
}

// PhaseView is one phase in the detailed view.
type PhaseView struct {
	Phase           string          `json:"phase"`
	Status          string          `json:"status"`
	Progress        int             `json:"progress"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           *PhaseErrorView `json:"error,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
}

// PhaseErrorView is the persisted failure of a phase.
type PhaseErrorView struct {
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// OverallProgress is the mean progress of the pipeline phases. Phases
// missing from the list count as zero.
func OverallProgress(phases []storage.PhaseRecord) int {
	byName := make(map[string]int, len(phases))
	for _, p := range phases {
		byName[p.Phase] = p.Progress
	}
	total := 0
	for _, name := range storage.Phases {
		total += min(max(byName[name], 0), 100)
	}
	return total / len(storage.Phases)
}

// buildStatus renders a record and its phases. Summary and detailed views
// share the first five fields exactly.
func buildStatus(rec storage.InputRecord, phases []storage.PhaseRecord, detailed bool) StatusView {
	v := StatusView{
		RecordID:     rec.ID,
		Status:       rec.OverallStatus,
		CurrentPhase: rec.CurrentPhase,
		Progress:     OverallProgress(phases),
		Error:        rec.ErrorMessage,
	}
	if !detailed {
		return v
	}

	v.DetectedLanguage = rec.DetectedLanguage
	v.LanguageConfidence = normalizeConfidence(rec.LanguageConfidence)
	v.ProcessedText = rec.ProcessedText
	if rec.TranslationResult != "" {
		var tr storage.TranslationResult
		if err := json.Unmarshal([]byte(rec.TranslationResult), &tr); err == nil {
			tr.Confidence = normalizeConfidence(tr.Confidence)
			v.Translation = &tr
		}
	}
	v.CreatedAt = timePtr(rec.CreatedAt)
	v.UpdatedAt = timePtr(rec.UpdatedAt)
	v.ProcessedAt = timePtr(rec.ProcessedAt)

	v.Phases = make([]PhaseView, 0, len(phases))
	for _, p := range phases {
		pv := PhaseView{
			Phase:           p.Phase,
			Status:          p.Status,
			Progress:        p.Progress,
			StartedAt:       timePtr(p.StartedAt),
			CompletedAt:     timePtr(p.CompletedAt),
			DurationSeconds: p.DurationSeconds,
		}
		if p.Data != "" {
			pv.Data = json.RawMessage(p.Data)
		}
		if p.ErrorKind != "" || p.ErrorMessage != "" {
			pv.Error = &PhaseErrorView{Kind: p.ErrorKind, Message: p.ErrorMessage}
			if p.ErrorDetail != "" {
				pv.Error.Detail = json.RawMessage(p.ErrorDetail)
			}
		}
		v.Phases = append(v.Phases, pv)
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// normalizeConfidence re-renders a stored confidence in the two-decimal form.
// Unreadable values are dropped.
func normalizeConfidence(s string) string {
	if s == "" {
		return ""
	}
	c, err := storage.ParseConfidence(s)
	if err != nil {
		return ""
	}
	return storage.FormatConfidence(c)
}
