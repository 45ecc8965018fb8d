package events

import (
	"encoding/json"
	"time"
)

// EventType groups events by the component that emits them.
type EventType string

const (
	// EventTypeRegistration is a time registration state change.
	EventTypeRegistration EventType = "registration"
	// EventTypeSync is a synchronization request or result.
	EventTypeSync EventType = "sync"
)

// Actions used by worktime components.
const (
	ActionStarted   = "started"
	ActionStopped   = "stopped"
	ActionFire      = "fire"
	ActionCompleted = "completed"
)

// Event statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Event is one queued message. Payload holds JSON; use Decode to read it into
// RegistrationPayload or SyncPayload.
type Event struct {
	ID          string
	Type        EventType
	Source      string // timer, cli, orchestrator, runner
	Action      string
	Payload     json.RawMessage
	Metadata    EventMetadata
	CreatedAt   time.Time
	DeliverAt   *time.Time // nil delivers on the next poll
	ProcessedAt *time.Time
	Status      string
}

// EventMetadata says where an event came from.
type EventMetadata struct {
	Context string `json:"context,omitempty"`
	Host    string `json:"host,omitempty"`
}

// DueAt is when the event becomes deliverable.
func (e *Event) DueAt() time.Time {
	if e.DeliverAt != nil {
		return *e.DeliverAt
	}
	return e.CreatedAt
}

// Decode unmarshals the payload into v. An event without payload leaves v
// untouched.
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// RegistrationPayload is carried by registration.started and
// registration.stopped.
type RegistrationPayload struct {
	RegistrationID string     `json:"registration_id"`
	TaskID         string     `json:"task_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	GapClosed      bool       `json:"gap_closed,omitempty"`
	Gap            string     `json:"gap,omitempty"`
}

// SyncPayload is carried by sync.fire and sync.completed.
type SyncPayload struct {
	Timer     string     `json:"timer,omitempty"`
	FiredAt   *time.Time `json:"fired_at,omitempty"`
	HistoryID string     `json:"history_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RegistrationEvent builds a registration event for the given context.
func RegistrationEvent(action, regCtx, host string, p RegistrationPayload) *Event {
	return &Event{
		Type:     EventTypeRegistration,
		Source:   "orchestrator",
		Action:   action,
		Payload:  mustMarshal(p),
		Metadata: EventMetadata{Context: regCtx, Host: host},
	}
}

// SyncEvent builds a sync event. A non-nil deliverAt holds it back until then.
func SyncEvent(source, action, host string, p SyncPayload, deliverAt *time.Time) *Event {
	return &Event{
		Type:      EventTypeSync,
		Source:    source,
		Action:    action,
		Payload:   mustMarshal(p),
		Metadata:  EventMetadata{Host: host},
		DeliverAt: deliverAt,
	}
}

// mustMarshal encodes the payload structs above, which always marshal.
func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
