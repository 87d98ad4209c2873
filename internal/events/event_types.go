package events

import (
	"time"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventConversationCreated EventType = "conversation_created"
	EventStateChanged        EventType = "conversation_state_changed"
	EventMessagePosted       EventType = "conversation_message_posted"
	EventOverdueWarning      EventType = "conversation_overdue_warning"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	MemberID  string `json:"member_id"`
	Supportee bool   `json:"supportee"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// ConversationCreatedPayload payload.
type ConversationCreatedPayload struct {
	RoomID         string       `json:"room_id"`
	FirstMessageID string       `json:"first_message_id"`
	State          domain.State `json:"state"`
	Title          string       `json:"title"`
}

// StateChangedPayload payload.
type StateChangedPayload struct {
	OldState domain.State `json:"old_state"`
	NewState domain.State `json:"new_state"`
	Implicit bool         `json:"implicit"`
}

// MessagePostedPayload payload.
type MessagePostedPayload struct {
	MessageID  string `json:"message_id"`
	MessageURL string `json:"message_url,omitempty"`
	Supportee  bool   `json:"supportee"`
}

// OverdueWarningPayload payload. Level is "warning" or "critical".
type OverdueWarningPayload struct {
	RoomID string     `json:"room_id"`
	Level  string     `json:"level"`
	DueAt  *time.Time `json:"due_at,omitempty"`
}
