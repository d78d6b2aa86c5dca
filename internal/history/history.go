package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of kill event.
type EventType string

const (
	EventKill       EventType = "kill"
	EventKillFailed EventType = "kill_failed"
	EventAutoKill   EventType = "auto_kill"
)

// Event is one termination attempt, exported to external systems.
type Event struct {
	Type        EventType `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	Port        int       `json:"port"`
	PID         int       `json:"pid"`
	ProcessName string    `json:"process_name"`
	Command     string    `json:"command"`
	Forceful    bool      `json:"forceful"`
	Success     bool      `json:"success"`
	Project     string    `json:"project,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards events; it stands in when no history DSN is configured.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Emit sends e to sink, logging rather than returning failures.
func Emit(ctx context.Context, sink Sink, log *slog.Logger, e Event) {
	if sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := sink.Send(ctx, e); err != nil && log != nil {
		log.Warn("history event not recorded", "type", e.Type, "port", e.Port, "pid", e.PID, "err", err)
	}
}
