package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Overall record statuses.
const (
	RecordPending    = "pending"
	RecordProcessing = "processing"
	RecordCompleted  = "completed"
	RecordFailed     = "failed"
)

// Phase names in execution order.
const (
	PhaseValidation    = "validation"
	PhaseDetection     = "language_detection"
	PhaseTranslation   = "translation"
	PhasePreprocessing = "preprocessing"
)

// Phases lists every phase in the order a run attempts them.
var Phases = []string{PhaseValidation, PhaseDetection, PhaseTranslation, PhasePreprocessing}

// Phase statuses.
const (
	PhasePending    = "pending"
	PhaseInProgress = "in_progress"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
	PhaseSkipped    = "skipped"
)

// InputRecord is one submission and everything the pipeline derived from it.
// Empty strings stand for NULL columns.
type InputRecord struct {
	ID                 string
	RawText            string
	UserID             string
	SessionID          string
	DetectedLanguage   string
	LanguageConfidence string // two-decimal string, see FormatConfidence
	TranslationResult  string // JSON, see TranslationResult
	ProcessedText      string
	OverallStatus      string
	CurrentPhase       string
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ProcessedAt        time.Time
}

// TranslationResult is the JSON document stored in input_records.translation_result.
type TranslationResult struct {
	TranslatedText string `json:"translated_text"`
	Provider       string `json:"provider"`
	Confidence     string `json:"confidence"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// RecordUpdate lists the mutable record columns. Nil fields are left untouched.
type RecordUpdate struct {
	DetectedLanguage   *string
	LanguageConfidence *string
	TranslationResult  *string
	ProcessedText      *string
	OverallStatus      *string
	CurrentPhase       *string
	ErrorMessage       *string
	ProcessedAt        *time.Time
}

// PhaseRecord is the persisted state of one phase of one record.
type PhaseRecord struct {
	RecordID        string
	Phase           string
	Status          string
	Progress        int
	Data            string // JSON object
	ErrorKind       string
	ErrorMessage    string
	ErrorDetail     string // JSON object
	StartedAt       time.Time
	CompletedAt     time.Time
	DurationSeconds float64
	UpdatedAt       time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
