package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// EventRepository reads the append-only timeline store. Writes happen
// inside the conversation repository's transition transaction.
type EventRepository interface {
	ListByConversation(ctx context.Context, conversationID string) ([]domain.ConversationEvent, error)
}

type eventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository instantiates repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{pool: pool}
}

const insertEventQuery = `
        INSERT INTO conversation_events (id, conversation_id, member_id, created_on, thread_id, event_type, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

func (r *eventRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.ConversationEvent, error) {
	const query = `
        SELECT id, conversation_id, member_id, created_on, thread_id, sequence, event_type, payload
        FROM conversation_events WHERE conversation_id=$1
        ORDER BY created_on, sequence`
	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]domain.ConversationEvent, error) {
	var result []domain.ConversationEvent
	for rows.Next() {
		var (
			event   domain.ConversationEvent
			payload []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.ConversationID,
			&event.MemberID,
			&event.CreatedOn,
			&event.ThreadID,
			&event.Sequence,
			&event.Type,
			&payload,
		); err != nil {
			return nil, err
		}
		if err := unmarshalEventPayload(&event, payload); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

func marshalEventPayload(event *domain.ConversationEvent) ([]byte, error) {
	switch event.Type {
	case domain.EventMessagePosted:
		return json.Marshal(event.MessagePosted)
	case domain.EventStateChanged:
		return json.Marshal(event.StateChanged)
	case domain.EventAttachedToHub:
		return json.Marshal(event.AttachedToHub)
	case domain.EventConversationLinked:
		return json.Marshal(event.Linked)
	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
}

func unmarshalEventPayload(event *domain.ConversationEvent, payload []byte) error {
	switch event.Type {
	case domain.EventMessagePosted:
		event.MessagePosted = &domain.MessagePostedPayload{}
		return json.Unmarshal(payload, event.MessagePosted)
	case domain.EventStateChanged:
		event.StateChanged = &domain.StateChangedPayload{}
		return json.Unmarshal(payload, event.StateChanged)
	case domain.EventAttachedToHub:
		event.AttachedToHub = &domain.AttachedToHubPayload{}
		return json.Unmarshal(payload, event.AttachedToHub)
	case domain.EventConversationLinked:
		event.Linked = &domain.ConversationLinkedPayload{}
		return json.Unmarshal(payload, event.Linked)
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}
}
