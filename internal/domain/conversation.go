package domain

import "time"

// State enumerates lifecycle states for conversations.
type State string

const (
	StateUnknown       State = "UNKNOWN"
	StateNew           State = "NEW"
	StateNeedsResponse State = "NEEDS_RESPONSE"
	StateWaiting       State = "WAITING"
	StateResponded     State = "RESPONDED"
	StateClosed        State = "CLOSED"
	StateArchived      State = "ARCHIVED"
	StateOverdue       State = "OVERDUE"
	StateSnoozed       State = "SNOOZED"
	StateHidden        State = "HIDDEN"
)

// Property keys stored in Conversation.Properties.
const (
	PropertyLastSupporteeMessageID = "last_supportee_message_id"
)

// ConversationMember tracks a participant in a conversation.
type ConversationMember struct {
	MemberID     string
	JoinedOn     time.Time
	LastPostedOn *time.Time
}

// ConversationLink references an external ticket or issue.
type ConversationLink struct {
	ID             string
	ConversationID string
	Provider       string
	ExternalKey    string
	URL            string
	CreatedOn      time.Time
}

// HubAttachment points at the hub thread mirroring a conversation.
type HubAttachment struct {
	HubID       string
	HubThreadID string
}

// Conversation is the aggregate for a tracked support conversation.
// State and the denormalized timestamps are mutated only through the
// lifecycle service transitions.
type Conversation struct {
	ID                  string
	Version             int64
	OrgID               string
	RoomID              string
	Title               string
	CreatedOn           time.Time
	FirstMessageID      string
	ThreadIDs           []string
	State               State
	LastStateChangeOn   time.Time
	ClosedOn            *time.Time
	ArchivedOn          *time.Time
	FirstResponseOn     *time.Time
	LastMessagePostedOn time.Time
	Hub                 *HubAttachment
	ImportedOn          *time.Time
	Properties          map[string]string
	Members             []ConversationMember
	Events              []ConversationEvent
	Links               []ConversationLink
	Assignees           []string
	Tags                []string
}

// Property returns a free-form property value, empty when unset.
func (c *Conversation) Property(key string) string {
	if c.Properties == nil {
		return ""
	}
	return c.Properties[key]
}

// SetProperty stores a free-form property value.
func (c *Conversation) SetProperty(key, value string) {
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
	c.Properties[key] = value
}

// HasMessageEvent reports whether the timeline already contains a
// message-posted event with the given message id.
func (c *Conversation) HasMessageEvent(messageID string) bool {
	for _, event := range c.Events {
		if event.Type == EventMessagePosted && event.MessagePosted != nil && event.MessagePosted.MessageID == messageID {
			return true
		}
	}
	return false
}

// StateChanges returns the state-change events in timeline order.
func (c *Conversation) StateChanges() []ConversationEvent {
	var changes []ConversationEvent
	for _, event := range c.Events {
		if event.Type == EventStateChanged && event.StateChanged != nil {
			changes = append(changes, event)
		}
	}
	return changes
}
