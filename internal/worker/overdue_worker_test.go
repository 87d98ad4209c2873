package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/events"
	"github.com/spec-kit/conversation-service/internal/repository"
	"github.com/spec-kit/conversation-service/internal/service"
)

var sweepBase = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type stubConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
}

func (r *stubConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[c.ID] = c
	return nil
}

func (r *stubConversationRepo) CommitTransition(ctx context.Context, c *domain.Conversation, newEvents []domain.ConversationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conversations[c.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.Version != c.Version {
		return repository.ErrVersionConflict
	}
	clone := *c
	clone.Version++
	r.conversations[c.ID] = &clone
	c.Version = clone.Version
	return nil
}

func (r *stubConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (r *stubConversationRepo) GetByRoomAndFirstMessage(ctx context.Context, roomID, messageID string) (*domain.Conversation, error) {
	return nil, pgx.ErrNoRows
}

func (r *stubConversationRepo) ListByStates(ctx context.Context, states []domain.State) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Conversation
	for _, c := range r.conversations {
		for _, state := range states {
			if c.State == state {
				result = append(result, *c)
				break
			}
		}
	}
	return result, nil
}

func (r *stubConversationRepo) ListHistories(ctx context.Context, filter repository.HistoryFilter) ([]domain.Conversation, error) {
	return nil, nil
}

type stubRoomRepo struct{ rooms map[string]*domain.Room }

func (r *stubRoomRepo) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	room, ok := r.rooms[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return room, nil
}

func (r *stubRoomRepo) SetThreshold(ctx context.Context, roomID string, threshold *domain.Threshold) error {
	return nil
}

func (r *stubRoomRepo) ListRoomIDsForRole(ctx context.Context, memberID string, role domain.RoomRole) ([]string, error) {
	return nil, nil
}

type stubOrgRepo struct{}

func (stubOrgRepo) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	return &domain.Organization{ID: id}, nil
}

type stubMemberRepo struct{}

func (stubMemberRepo) GetByID(ctx context.Context, id string) (*domain.Member, error) {
	return nil, pgx.ErrNoRows
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *captureDispatcher) Publish(ctx context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *captureDispatcher) Subscribe(eventType events.EventType, handler events.EventHandler) {}

func (d *captureDispatcher) byType(eventType events.EventType) []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []events.Event
	for _, event := range d.events {
		if event.Type == eventType {
			result = append(result, event)
		}
	}
	return result
}

func sweepEnv(t *testing.T, threshold *domain.Threshold, conversations ...*domain.Conversation) (*OverdueWorker, *stubConversationRepo, *captureDispatcher) {
	t.Helper()
	convRepo := &stubConversationRepo{conversations: map[string]*domain.Conversation{}}
	for _, c := range conversations {
		convRepo.conversations[c.ID] = c
	}
	roomRepo := &stubRoomRepo{rooms: map[string]*domain.Room{
		"room1": {ID: "room1", OrgID: "org1", Managed: true, Threshold: threshold},
	}}
	dispatcher := &captureDispatcher{}
	clock := stubClock{now: sweepBase.Add(5 * time.Hour)}

	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{
		ConversationRepo: convRepo,
		RoomRepo:         roomRepo,
		MemberRepo:       stubMemberRepo{},
		Clock:            clock,
	})
	sla := service.NewSlaService(roomRepo, stubOrgRepo{}, nil, 0, nil)

	worker := NewOverdueWorker(OverdueWorkerDependencies{
		ConversationRepo: convRepo,
		RoomRepo:         roomRepo,
		Lifecycle:        lifecycle,
		Sla:              sla,
		Dispatcher:       dispatcher,
		Clock:            clock,
	})
	return worker, convRepo, dispatcher
}

func overdueThreshold() *domain.Threshold {
	warning := time.Hour
	deadline := 4 * time.Hour
	return &domain.Threshold{Warning: &warning, Deadline: &deadline}
}

func TestSweepFlagsCriticalConversations(t *testing.T) {
	// Aged 5h against a 4h deadline.
	worker, repo, dispatcher := sweepEnv(t, overdueThreshold(), &domain.Conversation{
		ID: "c1", OrgID: "org1", RoomID: "room1", State: domain.StateNew,
		CreatedOn: sweepBase, LastStateChangeOn: sweepBase,
	})

	if err := worker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	flagged, _ := repo.GetByID(context.Background(), "c1")
	if flagged.State != domain.StateOverdue {
		t.Fatalf("state = %s, want %s", flagged.State, domain.StateOverdue)
	}
	warnings := dispatcher.byType(events.EventOverdueWarning)
	if len(warnings) != 1 {
		t.Fatalf("overdue warnings = %d, want 1", len(warnings))
	}
	payload := warnings[0].Payload.(events.OverdueWarningPayload)
	if payload.Level != "critical" || payload.RoomID != "room1" {
		t.Errorf("warning payload = %+v", payload)
	}
}

func TestSweepWarnsWithoutFlagging(t *testing.T) {
	// Aged 2h: inside the warning window, before the deadline.
	aged := sweepBase.Add(3 * time.Hour)
	worker, repo, dispatcher := sweepEnv(t, overdueThreshold(), &domain.Conversation{
		ID: "c1", OrgID: "org1", RoomID: "room1", State: domain.StateWaiting,
		CreatedOn: aged, LastStateChangeOn: aged,
	})

	if err := worker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	conversation, _ := repo.GetByID(context.Background(), "c1")
	if conversation.State != domain.StateWaiting {
		t.Fatalf("warning-level sweep changed state to %s", conversation.State)
	}
	warnings := dispatcher.byType(events.EventOverdueWarning)
	if len(warnings) != 1 || warnings[0].Payload.(events.OverdueWarningPayload).Level != "warning" {
		t.Fatalf("expected one warning-level event, got %+v", warnings)
	}
}

func TestSweepSkipsRoomsWithoutSla(t *testing.T) {
	worker, repo, dispatcher := sweepEnv(t, nil, &domain.Conversation{
		ID: "c1", OrgID: "org1", RoomID: "room1", State: domain.StateNew,
		CreatedOn: sweepBase, LastStateChangeOn: sweepBase,
	})

	if err := worker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	conversation, _ := repo.GetByID(context.Background(), "c1")
	if conversation.State != domain.StateNew {
		t.Errorf("no-SLA room conversation transitioned to %s", conversation.State)
	}
	if len(dispatcher.events) != 0 {
		t.Errorf("no-SLA room emitted events: %+v", dispatcher.events)
	}
}

func TestSweepIgnoresNonCandidateStates(t *testing.T) {
	worker, repo, _ := sweepEnv(t, overdueThreshold(),
		&domain.Conversation{
			ID: "closed", OrgID: "org1", RoomID: "room1", State: domain.StateClosed,
			CreatedOn: sweepBase, LastStateChangeOn: sweepBase,
		},
		&domain.Conversation{
			ID: "snoozed", OrgID: "org1", RoomID: "room1", State: domain.StateSnoozed,
			CreatedOn: sweepBase, LastStateChangeOn: sweepBase,
		},
	)

	if err := worker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	for _, id := range []string{"closed", "snoozed"} {
		conversation, _ := repo.GetByID(context.Background(), id)
		if conversation.State == domain.StateOverdue {
			t.Errorf("%s conversation was flagged overdue", id)
		}
	}
}
