package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/intake/internal/preprocess"
	"github.com/kalambet/intake/internal/storage"
	"github.com/kalambet/intake/internal/translate"
)

// Kind classifies a phase failure. It is persisted as error_kind.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindTranslationProvider Kind = "translation_provider"
	KindChainExhausted      Kind = "chain_exhausted"
	KindPreprocessing       Kind = "preprocessing"
	KindTimeout             Kind = "timeout"
	// KindCache is only ever logged; cache failures read as misses.
	KindCache    Kind = "cache"
	KindInternal Kind = "internal"
)

// ErrIllegalTransition is returned by the tracker for a phase or record
// status change the state machine does not allow.
var ErrIllegalTransition = errors.New("illegal status transition")

// PhaseError describes why a phase failed.
type PhaseError struct {
	Phase   string
	Kind    Kind
	Message string
	Detail  map[string]any
	Err     error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Phase, e.Kind, e.Message)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// classify turns an error returned inside phase into a PhaseError.
func classify(phase string, err error) *PhaseError {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe
	}

	out := &PhaseError{Phase: phase, Kind: KindInternal, Message: err.Error(), Err: err}

	var exhausted *translate.ExhaustedError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
		out.Message = "processing deadline exceeded during " + phase
	case errors.Is(err, context.Canceled):
		out.Kind = KindTimeout
		out.Message = "processing cancelled during " + phase
	case errors.As(err, &exhausted):
		out.Kind = KindChainExhausted
		out.Message = "no translation provider produced a result"
		out.Detail = map[string]any{"failures": exhausted.Failures}
	case errors.Is(err, preprocess.ErrMalformed), errors.Is(err, preprocess.ErrEmpty):
		out.Kind = KindPreprocessing
	case phase == storage.PhaseTranslation:
		out.Kind = KindTranslationProvider
	}
	return out
}
