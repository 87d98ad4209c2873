package domain

import (
	"sort"
	"time"
)

// EventType tags the closed set of timeline event variants.
type EventType string

const (
	EventMessagePosted      EventType = "MESSAGE_POSTED"
	EventStateChanged       EventType = "STATE_CHANGED"
	EventAttachedToHub      EventType = "ATTACHED_TO_HUB"
	EventConversationLinked EventType = "CONVERSATION_LINKED"
)

// MessagePostedPayload carries message-posted variant data.
type MessagePostedPayload struct {
	MessageID  string            `json:"message_id"`
	MessageURL string            `json:"message_url,omitempty"`
	Supportee  bool              `json:"supportee"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StateChangedPayload carries state-change variant data. Implicit marks
// changes driven by message activity rather than an explicit action.
type StateChangedPayload struct {
	OldState State `json:"old_state"`
	NewState State `json:"new_state"`
	Implicit bool  `json:"implicit"`
}

// AttachedToHubPayload carries hub-attachment variant data.
type AttachedToHubPayload struct {
	HubID       string `json:"hub_id"`
	HubThreadID string `json:"hub_thread_id"`
}

// ConversationLinkedPayload carries external-link variant data.
type ConversationLinkedPayload struct {
	LinkID      string `json:"link_id"`
	Provider    string `json:"provider"`
	ExternalKey string `json:"external_key"`
}

// ConversationEvent is one immutable timeline entry. The envelope fields
// are always set; exactly one variant payload is non-nil, selected by Type.
type ConversationEvent struct {
	ID             string
	ConversationID string
	MemberID       string
	CreatedOn      time.Time
	ThreadID       *string
	Sequence       int64

	Type          EventType
	MessagePosted *MessagePostedPayload
	StateChanged  *StateChangedPayload
	AttachedToHub *AttachedToHubPayload
	Linked        *ConversationLinkedPayload
}

// SortEvents orders events by creation instant, breaking ties by
// insertion sequence.
func SortEvents(events []ConversationEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedOn.Equal(events[j].CreatedOn) {
			return events[i].Sequence < events[j].Sequence
		}
		return events[i].CreatedOn.Before(events[j].CreatedOn)
	})
}
