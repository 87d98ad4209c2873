package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// HistoryFilter selects conversations for insight rollups. Nil slices mean
// "no restriction"; CreatedBefore is exclusive.
type HistoryFilter struct {
	OrgID         string
	RoomIDs       []string
	Tags          []string
	CreatedBefore *time.Time
}

// ConversationRepository encapsulates conversation persistence.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	// CommitTransition appends the new timeline events and writes the
	// aggregate in one transaction, guarded by the aggregate's version.
	// Returns ErrVersionConflict when another writer got there first.
	CommitTransition(ctx context.Context, conversation *domain.Conversation, newEvents []domain.ConversationEvent) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	GetByRoomAndFirstMessage(ctx context.Context, roomID, messageID string) (*domain.Conversation, error)
	ListByStates(ctx context.Context, states []domain.State) ([]domain.Conversation, error)
	ListHistories(ctx context.Context, filter HistoryFilter) ([]domain.Conversation, error)
}

// ErrVersionConflict signals that a conversation was modified between the
// caller's read and its write. Callers reread and reapply.
var ErrVersionConflict = errors.New("conversation version conflict")

type conversationRepository struct {
	pool   *pgxpool.Pool
	events EventRepository
}

// NewConversationRepository instantiates repository.
func NewConversationRepository(pool *pgxpool.Pool, events EventRepository) ConversationRepository {
	return &conversationRepository{pool: pool, events: events}
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// failure, used to recover the duplicate-creation race.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const conversationColumns = `id, org_id, room_id, title, created_on, first_message_id, thread_ids,
        state, last_state_change_on, closed_on, archived_on, first_response_on,
        last_message_posted_on, hub_id, hub_thread_id, imported_on, properties, assignees, version`

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *conversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	properties, err := json.Marshal(propertiesOrEmpty(conversation.Properties))
	if err != nil {
		return err
	}
	var hubID, hubThreadID *string
	if conversation.Hub != nil {
		hubID = &conversation.Hub.HubID
		hubThreadID = &conversation.Hub.HubThreadID
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
        INSERT INTO conversations (id, org_id, room_id, title, created_on, first_message_id, thread_ids,
            state, last_state_change_on, closed_on, archived_on, first_response_on,
            last_message_posted_on, hub_id, hub_thread_id, imported_on, properties, assignees, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,1)`
	if _, err = tx.Exec(ctx, query,
		conversation.ID,
		conversation.OrgID,
		conversation.RoomID,
		conversation.Title,
		conversation.CreatedOn,
		conversation.FirstMessageID,
		conversation.ThreadIDs,
		conversation.State,
		conversation.LastStateChangeOn,
		conversation.ClosedOn,
		conversation.ArchivedOn,
		conversation.FirstResponseOn,
		conversation.LastMessagePostedOn,
		hubID,
		hubThreadID,
		conversation.ImportedOn,
		properties,
		conversation.Assignees,
	); err != nil {
		return err
	}
	if err := appendEvents(ctx, tx, conversation.Events); err != nil {
		return err
	}
	if err := replaceTags(ctx, tx, conversation.ID, conversation.Tags); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	conversation.Version = 1
	return nil
}

// CommitTransition writes one stimulus worth of changes as a unit: the new
// timeline events, the aggregate row, and the tag set. The version predicate
// turns a lost race into ErrVersionConflict instead of a silent overwrite;
// the partial message-id unique index turns a racing duplicate delivery into
// a unique violation.
func (r *conversationRepository) CommitTransition(ctx context.Context, conversation *domain.Conversation, newEvents []domain.ConversationEvent) error {
	properties, err := json.Marshal(propertiesOrEmpty(conversation.Properties))
	if err != nil {
		return err
	}
	var hubID, hubThreadID *string
	if conversation.Hub != nil {
		hubID = &conversation.Hub.HubID
		hubThreadID = &conversation.Hub.HubThreadID
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := appendEvents(ctx, tx, newEvents); err != nil {
		return err
	}

	const query = `
        UPDATE conversations SET title=$1, thread_ids=$2, state=$3, last_state_change_on=$4,
            closed_on=$5, archived_on=$6, first_response_on=$7, last_message_posted_on=$8,
            hub_id=$9, hub_thread_id=$10, properties=$11, assignees=$12, version=version+1
        WHERE id=$13 AND version=$14`
	cmd, err := tx.Exec(ctx, query,
		conversation.Title,
		conversation.ThreadIDs,
		conversation.State,
		conversation.LastStateChangeOn,
		conversation.ClosedOn,
		conversation.ArchivedOn,
		conversation.FirstResponseOn,
		conversation.LastMessagePostedOn,
		hubID,
		hubThreadID,
		properties,
		conversation.Assignees,
		conversation.ID,
		conversation.Version,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	if err := replaceTags(ctx, tx, conversation.ID, conversation.Tags); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	conversation.Version++
	return nil
}

func appendEvents(ctx context.Context, db execer, events []domain.ConversationEvent) error {
	for i := range events {
		payload, err := marshalEventPayload(&events[i])
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, insertEventQuery,
			events[i].ID,
			events[i].ConversationID,
			events[i].MemberID,
			events[i].CreatedOn,
			events[i].ThreadID,
			events[i].Type,
			payload,
		); err != nil {
			return err
		}
	}
	return nil
}

func replaceTags(ctx context.Context, db execer, conversationID string, tags []string) error {
	if _, err := db.Exec(ctx,
		`DELETE FROM conversation_tags WHERE conversation_id=$1`, conversationID); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := db.Exec(ctx,
			`INSERT INTO conversation_tags (conversation_id, tag) VALUES ($1,$2)`, conversationID, tag); err != nil {
			return err
		}
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE id=$1`, conversationColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *conversationRepository) GetByRoomAndFirstMessage(ctx context.Context, roomID, messageID string) (*domain.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE room_id=$1 AND first_message_id=$2`, conversationColumns)
	return r.fetchSingle(ctx, query, roomID, messageID)
}

func (r *conversationRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	conversation, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	conversation.Events, err = r.events.ListByConversation(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	conversation.Tags, err = r.listTags(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	return conversation, nil
}

// ListByStates returns conversations currently in one of the given states,
// without timelines. Used by the overdue sweep.
func (r *conversationRepository) ListByStates(ctx context.Context, states []domain.State) ([]domain.Conversation, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, state := range states {
		args[i] = state
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE state IN (%s) ORDER BY created_on`,
		conversationColumns, strings.Join(placeholders, ","))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ListHistories returns conversations with full timelines and tags for
// insight rollups.
func (r *conversationRepository) ListHistories(ctx context.Context, filter HistoryFilter) ([]domain.Conversation, error) {
	clauses := []string{"org_id=$1"}
	args := []any{filter.OrgID}

	if len(filter.RoomIDs) > 0 {
		placeholders := make([]string, len(filter.RoomIDs))
		for i, roomID := range filter.RoomIDs {
			args = append(args, roomID)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("room_id IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Tags) > 0 {
		placeholders := make([]string, len(filter.Tags))
		for i, tag := range filter.Tags {
			args = append(args, tag)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf(
			"id IN (SELECT conversation_id FROM conversation_tags WHERE tag IN (%s))",
			strings.Join(placeholders, ",")))
	}
	if filter.CreatedBefore != nil {
		args = append(args, *filter.CreatedBefore)
		clauses = append(clauses, fmt.Sprintf("created_on < $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE %s ORDER BY created_on`,
		conversationColumns, strings.Join(clauses, " AND "))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	conversations, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}
	for i := range conversations {
		conversations[i].Events, err = r.events.ListByConversation(ctx, conversations[i].ID)
		if err != nil {
			return nil, err
		}
		conversations[i].Tags, err = r.listTags(ctx, conversations[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

func (r *conversationRepository) listTags(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tag FROM conversation_tags WHERE conversation_id=$1 ORDER BY tag`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		conversation domain.Conversation
		hubID        *string
		hubThreadID  *string
		properties   []byte
	)
	if err := row.Scan(
		&conversation.ID,
		&conversation.OrgID,
		&conversation.RoomID,
		&conversation.Title,
		&conversation.CreatedOn,
		&conversation.FirstMessageID,
		&conversation.ThreadIDs,
		&conversation.State,
		&conversation.LastStateChangeOn,
		&conversation.ClosedOn,
		&conversation.ArchivedOn,
		&conversation.FirstResponseOn,
		&conversation.LastMessagePostedOn,
		&hubID,
		&hubThreadID,
		&conversation.ImportedOn,
		&properties,
		&conversation.Assignees,
		&conversation.Version,
	); err != nil {
		return nil, err
	}
	if hubID != nil && hubThreadID != nil {
		conversation.Hub = &domain.HubAttachment{HubID: *hubID, HubThreadID: *hubThreadID}
	}
	if len(properties) > 0 {
		if err := json.Unmarshal(properties, &conversation.Properties); err != nil {
			return nil, err
		}
	}
	return &conversation, nil
}

func scanConversations(rows pgx.Rows) ([]domain.Conversation, error) {
	var result []domain.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *conversation)
	}
	return result, rows.Err()
}

func propertiesOrEmpty(properties map[string]string) map[string]string {
	if properties == nil {
		return map[string]string{}
	}
	return properties
}
