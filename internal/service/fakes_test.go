package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type memConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	events        *memEventRepo
}

func newMemConversationRepo(events *memEventRepo) *memConversationRepo {
	return &memConversationRepo{conversations: map[string]*domain.Conversation{}, events: events}
}

func (r *memConversationRepo) hydrate(ctx context.Context, conversation *domain.Conversation) *domain.Conversation {
	if r.events != nil {
		conversation.Events, _ = r.events.ListByConversation(ctx, conversation.ID)
	}
	return conversation
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	clone := *c
	clone.Events = append([]domain.ConversationEvent(nil), c.Events...)
	clone.Members = append([]domain.ConversationMember(nil), c.Members...)
	clone.Links = append([]domain.ConversationLink(nil), c.Links...)
	clone.Tags = append([]string(nil), c.Tags...)
	if c.Properties != nil {
		clone.Properties = make(map[string]string, len(c.Properties))
		for k, v := range c.Properties {
			clone.Properties[k] = v
		}
	}
	return &clone
}

func (r *memConversationRepo) Create(ctx context.Context, conversation *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.conversations {
		if existing.RoomID == conversation.RoomID && existing.FirstMessageID == conversation.FirstMessageID {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	conversation.Version = 1
	if r.events != nil {
		if err := r.events.Append(ctx, conversation.Events); err != nil {
			return err
		}
	}
	r.conversations[conversation.ID] = cloneConversation(conversation)
	return nil
}

// CommitTransition mirrors the real repository's write path: the version
// predicate and the per-conversation message-id unique index.
func (r *memConversationRepo) CommitTransition(ctx context.Context, conversation *domain.Conversation, newEvents []domain.ConversationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conversations[conversation.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.Version != conversation.Version {
		return repository.ErrVersionConflict
	}
	if r.events != nil {
		existing, _ := r.events.ListByConversation(ctx, conversation.ID)
		for _, event := range newEvents {
			if event.Type != domain.EventMessagePosted {
				continue
			}
			for _, prior := range existing {
				if prior.Type == domain.EventMessagePosted && prior.MessagePosted.MessageID == event.MessagePosted.MessageID {
					return &pgconn.PgError{Code: "23505"}
				}
			}
		}
		if err := r.events.Append(ctx, newEvents); err != nil {
			return err
		}
	}
	clone := cloneConversation(conversation)
	clone.Version = stored.Version + 1
	r.conversations[conversation.ID] = clone
	conversation.Version = clone.Version
	return nil
}

func (r *memConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return r.hydrate(ctx, cloneConversation(conversation)), nil
}

func (r *memConversationRepo) GetByRoomAndFirstMessage(ctx context.Context, roomID, messageID string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conversation := range r.conversations {
		if conversation.RoomID == roomID && conversation.FirstMessageID == messageID {
			return r.hydrate(ctx, cloneConversation(conversation)), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memConversationRepo) ListByStates(ctx context.Context, states []domain.State) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Conversation
	for _, conversation := range r.conversations {
		for _, state := range states {
			if conversation.State == state {
				result = append(result, *cloneConversation(conversation))
				break
			}
		}
	}
	return result, nil
}

func (r *memConversationRepo) ListHistories(ctx context.Context, filter repository.HistoryFilter) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Conversation
	for _, conversation := range r.conversations {
		if filter.OrgID != "" && conversation.OrgID != filter.OrgID {
			continue
		}
		if len(filter.RoomIDs) > 0 && !containsString(filter.RoomIDs, conversation.RoomID) {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(conversation.Tags, filter.Tags) {
			continue
		}
		if filter.CreatedBefore != nil && !conversation.CreatedOn.Before(*filter.CreatedBefore) {
			continue
		}
		result = append(result, *r.hydrate(ctx, cloneConversation(conversation)))
	}
	return result, nil
}

func containsString(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}

func hasAnyTag(tags, wanted []string) bool {
	for _, tag := range tags {
		if containsString(wanted, tag) {
			return true
		}
	}
	return false
}

type memEventRepo struct {
	mu       sync.Mutex
	sequence int64
	events   map[string][]domain.ConversationEvent
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: map[string][]domain.ConversationEvent{}}
}

func (r *memEventRepo) Append(ctx context.Context, events []domain.ConversationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range events {
		r.sequence++
		event.Sequence = r.sequence
		r.events[event.ConversationID] = append(r.events[event.ConversationID], event)
	}
	return nil
}

func (r *memEventRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.ConversationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConversationEvent(nil), r.events[conversationID]...), nil
}

type memRoomRepo struct {
	mu          sync.Mutex
	rooms       map[string]*domain.Room
	assignments map[string][]string // memberID|role -> room ids
}

func newMemRoomRepo(rooms ...*domain.Room) *memRoomRepo {
	repo := &memRoomRepo{rooms: map[string]*domain.Room{}, assignments: map[string][]string{}}
	for _, room := range rooms {
		repo.rooms[room.ID] = room
	}
	return repo
}

func (r *memRoomRepo) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *room
	return &clone, nil
}

func (r *memRoomRepo) SetThreshold(ctx context.Context, roomID string, threshold *domain.Threshold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return pgx.ErrNoRows
	}
	room.Threshold = threshold
	return nil
}

func (r *memRoomRepo) assign(memberID string, role domain.RoomRole, roomIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberID + "|" + string(role)
	r.assignments[key] = append(r.assignments[key], roomIDs...)
}

func (r *memRoomRepo) ListRoomIDsForRole(ctx context.Context, memberID string, role domain.RoomRole) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.assignments[memberID+"|"+string(role)]...), nil
}

type memMemberRepo struct {
	mu      sync.Mutex
	members map[string]*domain.Member
}

func newMemMemberRepo(members ...*domain.Member) *memMemberRepo {
	repo := &memMemberRepo{members: map[string]*domain.Member{}}
	for _, member := range members {
		repo.members[member.ID] = member
	}
	return repo
}

func (r *memMemberRepo) GetByID(ctx context.Context, id string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.members[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *member
	return &clone, nil
}

type memOrgRepo struct {
	orgs map[string]*domain.Organization
}

func newMemOrgRepo(orgs ...*domain.Organization) *memOrgRepo {
	repo := &memOrgRepo{orgs: map[string]*domain.Organization{}}
	for _, org := range orgs {
		repo.orgs[org.ID] = org
	}
	return repo
}

func (r *memOrgRepo) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	org, ok := r.orgs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *org
	return &clone, nil
}

type memMetricRepo struct {
	mu           sync.Mutex
	observations []domain.MetricObservation
}

func newMemMetricRepo() *memMetricRepo {
	return &memMetricRepo{}
}

func (r *memMetricRepo) Save(ctx context.Context, observations []domain.MetricObservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, observations...)
	return nil
}

func (r *memMetricRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.MetricObservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.MetricObservation
	for _, observation := range r.observations {
		if observation.ConversationID == conversationID {
			result = append(result, observation)
		}
	}
	return result, nil
}

func (r *memMetricRepo) byKind(kind domain.MetricKind) []domain.MetricObservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.MetricObservation
	for _, observation := range r.observations {
		if observation.Kind == kind {
			result = append(result, observation)
		}
	}
	return result
}
