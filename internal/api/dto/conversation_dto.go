package dto

import (
	"time"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// CreateConversationRequest starts a conversation from its first message.
type CreateConversationRequest struct {
	OrgID          string     `json:"org_id"`
	RoomID         string     `json:"room_id"`
	Title          string     `json:"title,omitempty"`
	FirstMessageID string     `json:"first_message_id"`
	MessageURL     string     `json:"message_url,omitempty"`
	PosterID       string     `json:"poster_id"`
	ThreadID       *string    `json:"thread_id,omitempty"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
}

// PostMessageRequest delivers a follow-up message to a conversation.
type PostMessageRequest struct {
	MessageID  string            `json:"message_id"`
	MessageURL string            `json:"message_url,omitempty"`
	PosterID   string            `json:"poster_id"`
	ThreadID   *string           `json:"thread_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AttachHubRequest links a conversation to an escalation hub thread.
type AttachHubRequest struct {
	HubID       string `json:"hub_id"`
	HubThreadID string `json:"hub_thread_id"`
}

// AttachLinkRequest records an external ticket or issue link.
type AttachLinkRequest struct {
	Provider    string `json:"provider"`
	ExternalKey string `json:"external_key"`
	URL         string `json:"url"`
}

// TransitionResponse reports the outcome of a stimulus.
type TransitionResponse struct {
	Conversation ConversationSummary `json:"conversation"`
	Changed      bool                `json:"changed"`
}

// ConversationSummary response.
type ConversationSummary struct {
	ID                  string       `json:"id"`
	OrgID               string       `json:"org_id"`
	RoomID              string       `json:"room_id"`
	Title               string       `json:"title"`
	State               domain.State `json:"state"`
	CreatedOn           time.Time    `json:"created_on"`
	LastStateChangeOn   time.Time    `json:"last_state_change_on"`
	LastMessagePostedOn time.Time    `json:"last_message_posted_on"`
	ClosedOn            *time.Time   `json:"closed_on,omitempty"`
	ArchivedOn          *time.Time   `json:"archived_on,omitempty"`
	FirstResponseOn     *time.Time   `json:"first_response_on,omitempty"`
	Tags                []string     `json:"tags,omitempty"`
}

// TimelineEntry is one audit-timeline event.
type TimelineEntry struct {
	ID        string           `json:"id"`
	Type      domain.EventType `json:"type"`
	MemberID  string           `json:"member_id"`
	Supportee bool             `json:"supportee"`
	CreatedOn time.Time        `json:"created_on"`
	ThreadID  *string          `json:"thread_id,omitempty"`
	Payload   any              `json:"payload,omitempty"`
}

// ConversationDetailResponse provides the aggregate with its timeline.
type ConversationDetailResponse struct {
	ConversationSummary
	Timeline []TimelineEntry `json:"timeline"`
}

// FromConversation maps the aggregate to a summary.
func FromConversation(conversation *domain.Conversation) ConversationSummary {
	return ConversationSummary{
		ID:                  conversation.ID,
		OrgID:               conversation.OrgID,
		RoomID:              conversation.RoomID,
		Title:               conversation.Title,
		State:               conversation.State,
		CreatedOn:           conversation.CreatedOn,
		LastStateChangeOn:   conversation.LastStateChangeOn,
		LastMessagePostedOn: conversation.LastMessagePostedOn,
		ClosedOn:            conversation.ClosedOn,
		ArchivedOn:          conversation.ArchivedOn,
		FirstResponseOn:     conversation.FirstResponseOn,
		Tags:                conversation.Tags,
	}
}

// TimelineFromEvents maps timeline events for the detail response.
func TimelineFromEvents(events []domain.ConversationEvent) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(events))
	for _, event := range events {
		entry := TimelineEntry{
			ID:        event.ID,
			Type:      event.Type,
			MemberID:  event.MemberID,
			CreatedOn: event.CreatedOn,
			ThreadID:  event.ThreadID,
		}
		switch event.Type {
		case domain.EventMessagePosted:
			entry.Supportee = event.MessagePosted.Supportee
			entry.Payload = event.MessagePosted
		case domain.EventStateChanged:
			entry.Payload = event.StateChanged
		case domain.EventAttachedToHub:
			entry.Payload = event.AttachedToHub
		case domain.EventConversationLinked:
			entry.Payload = event.Linked
		}
		entries = append(entries, entry)
	}
	return entries
}
