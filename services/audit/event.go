package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventLogin            EventType = "login"
	EventLogout           EventType = "logout"
	EventLogoutAll        EventType = "logout_all"
	EventTokenIssued      EventType = "token_issued"
	EventTokenRotated     EventType = "token_rotated"
	EventTokenReplay      EventType = "token_replay"
	EventSessionRevoked   EventType = "session_revoked"
	EventAdmissionDenied  EventType = "admission_denied"
	EventAdmissionFlagged EventType = "admission_flagged"
	EventCSRFRejected     EventType = "csrf_rejected"
	EventStepUpRequired   EventType = "step_up_required"
	EventStepUpVerified   EventType = "step_up_verified"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityAlert   Severity = "alert"
)

// Event is the canonical security event record emitted by the auth services.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Path      string            `json:"path,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Score     int               `json:"score,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted security events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// MultiSink fans an event out to every configured sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

func newEventID() string {
	return ulid.Make().String()
}
