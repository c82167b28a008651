// Package history exports session lifecycle events to external systems.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart  EventType = "start"
	EventFinish EventType = "finish"
)

// Record describes one supervised session. FinishedAt, ExitCode and
// Outcome are only meaningful on finish events.
type Record struct {
	SessionID  string    `json:"session_id"`
	Name       string    `json:"name"`
	Command    string    `json:"command"`
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	ExitCode   int       `json:"exit_code"`
	Outcome    string    `json:"outcome,omitempty"`
	Pings      int       `json:"pings"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Publish call across all sinks.
const DefaultSendTimeout = 5 * time.Second

// Publish sends e to every sink. Errors are logged and otherwise ignored.
func Publish(ctx context.Context, log *slog.Logger, e Event, sinks ...Sink) {
	if len(sinks) == 0 {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultSendTimeout)
	defer cancel()
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			log.Warn("history sink failed", "event", e.Type, "session", e.Record.SessionID, "error", err)
		}
	}
}

// NewSessionID returns a random (version 4) UUID.
func NewSessionID() string {
	return uuid.NewString()
}

// NullTime returns nil for the zero time so SQL sinks store NULL.
func NullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
