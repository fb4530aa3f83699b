// Package events publishes record status changes to an external sink.
package events

import (
	"context"
	"sync"
	"time"
)

// RecordUpdated is emitted after every phase transition of a record.
type RecordUpdated struct {
	RecordID     string    `json:"record_id"`
	Status       string    `json:"status"`
	Phase        string    `json:"phase"`
	PhaseStatus  string    `json:"phase_status"`
	Progress     int       `json:"progress"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher delivers record updates. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev RecordUpdated) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, RecordUpdated) error { return nil }
func (Nop) Close() error                                 { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []RecordUpdated
}

func (r *Recorder) Publish(_ context.Context, ev RecordUpdated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []RecordUpdated {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordUpdated(nil), r.events...)
}
