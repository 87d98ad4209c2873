package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/events"
	"github.com/spec-kit/conversation-service/internal/observability"
	"github.com/spec-kit/conversation-service/internal/repository"
	apperrors "github.com/spec-kit/conversation-service/pkg/util"
)

// maxTransitionAttempts bounds the reread-and-reapply loop when a write
// loses its version race.
const maxTransitionAttempts = 3

// LifecycleService owns the conversation state machine. All mutation of a
// conversation aggregate goes through its transitions; every substantive
// transition appends a StateChangedEvent to the timeline. A stimulus is
// applied at most once: writes are version-guarded, and a lost race is
// resolved by rereading and reapplying against the fresh aggregate.
type LifecycleService struct {
	conversations repository.ConversationRepository
	rooms         repository.RoomRepository
	members       repository.MemberRepository
	recorder      *MetricRecorder
	dispatcher    events.Dispatcher
	metrics       *observability.Metrics
	clock         Clock
	logger        *zap.Logger
}

// LifecycleDependencies bundles collaborators for the lifecycle service.
type LifecycleDependencies struct {
	ConversationRepo repository.ConversationRepository
	RoomRepo         repository.RoomRepository
	MemberRepo       repository.MemberRepository
	Recorder         *MetricRecorder
	Dispatcher       events.Dispatcher
	Metrics          *observability.Metrics
	Clock            Clock
	Logger           *zap.Logger
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{
		conversations: deps.ConversationRepo,
		rooms:         deps.RoomRepo,
		members:       deps.MemberRepo,
		recorder:      deps.Recorder,
		dispatcher:    deps.Dispatcher,
		metrics:       deps.Metrics,
		clock:         clock,
		logger:        logger,
	}
}

// TransitionResult reports the outcome of applying a stimulus. Changed is
// false for idempotent no-ops; callers treat that as "nothing to do", not
// as a failure.
type TransitionResult struct {
	Conversation *domain.Conversation
	Changed      bool
	Event        *domain.ConversationEvent
}

// NewConversationInput describes a conversation to create from its first
// message.
type NewConversationInput struct {
	OrgID          string
	RoomID         string
	Title          string
	FirstMessageID string
	MessageURL     string
	PosterID       string
	ThreadID       *string
	PostedAt       time.Time
}

// InboundMessage is a message-posted stimulus for an existing conversation.
type InboundMessage struct {
	ConversationID string
	MessageID      string
	MessageURL     string
	PosterID       string
	ThreadID       *string
	Metadata       map[string]string
}

// IsSupportee classifies a poster for state-transition purposes: true
// unless the poster is a non-guest member of the room's home organization.
func IsSupportee(member *domain.Member, room *domain.Room) bool {
	if member == nil {
		return true
	}
	return member.OrgID != room.OrgID || member.IsGuest
}

// CreateConversation creates a conversation from its first message. A
// concurrent create for the same (room, first message) pair is resolved by
// returning the existing conversation.
func (s *LifecycleService) CreateConversation(ctx context.Context, input NewConversationInput) (*domain.Conversation, error) {
	room, err := s.rooms.GetByID(ctx, input.RoomID)
	if err != nil {
		return nil, err
	}
	member, err := s.members.GetByID(ctx, input.PosterID)
	if err != nil {
		return nil, err
	}
	supportee := IsSupportee(member, room)

	postedAt := input.PostedAt
	if postedAt.IsZero() {
		postedAt = s.clock.Now()
	}

	state := domain.StateNew
	if !room.Managed {
		state = domain.StateHidden
	}

	conversation := &domain.Conversation{
		ID:                  uuid.NewString(),
		OrgID:               input.OrgID,
		RoomID:              input.RoomID,
		Title:               input.Title,
		CreatedOn:           postedAt,
		FirstMessageID:      input.FirstMessageID,
		State:               state,
		LastStateChangeOn:   postedAt,
		LastMessagePostedOn: postedAt,
	}
	if input.ThreadID != nil {
		conversation.ThreadIDs = []string{*input.ThreadID}
	}
	conversation.SetProperty(domain.PropertyLastSupporteeMessageID, input.FirstMessageID)
	conversation.Members = []domain.ConversationMember{{
		MemberID:     input.PosterID,
		JoinedOn:     postedAt,
		LastPostedOn: &postedAt,
	}}
	conversation.Events = []domain.ConversationEvent{{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		MemberID:       input.PosterID,
		CreatedOn:      postedAt,
		ThreadID:       input.ThreadID,
		Type:           domain.EventMessagePosted,
		MessagePosted: &domain.MessagePostedPayload{
			MessageID:  input.FirstMessageID,
			MessageURL: input.MessageURL,
			Supportee:  supportee,
		},
	}}

	if err := s.conversations.Create(ctx, conversation); err != nil {
		if repository.IsUniqueViolation(err) {
			s.logger.Debug("conversation already exists",
				zap.String("room_id", input.RoomID),
				zap.String("first_message_id", input.FirstMessageID))
			return s.conversations.GetByRoomAndFirstMessage(ctx, input.RoomID, input.FirstMessageID)
		}
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:           events.EventConversationCreated,
		ConversationID: conversation.ID,
		Actor:          events.Actor{MemberID: input.PosterID, Supportee: supportee},
		Payload: events.ConversationCreatedPayload{
			RoomID:         conversation.RoomID,
			FirstMessageID: conversation.FirstMessageID,
			State:          conversation.State,
			Title:          conversation.Title,
		},
	})
	return conversation, nil
}

// ApplyMessage applies a message-posted stimulus: dedupes on message id,
// updates denormalized timestamps, and runs the implicit transition table.
// Two concurrent deliveries of the same message yield exactly one timeline
// entry: the loser hits either the version guard or the per-message unique
// index and resolves to a no-op against the fresh aggregate.
func (s *LifecycleService) ApplyMessage(ctx context.Context, msg InboundMessage) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		return s.applyMessageOnce(ctx, msg)
	})
}

func (s *LifecycleService) applyMessageOnce(ctx context.Context, msg InboundMessage) (*TransitionResult, error) {
	conversation, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	room, err := s.rooms.GetByID(ctx, conversation.RoomID)
	if err != nil {
		return nil, err
	}

	// A hidden conversation in an unmanaged room ignores messages entirely.
	if conversation.State == domain.StateHidden && !room.Managed {
		return &TransitionResult{Conversation: conversation}, nil
	}

	// Idempotent re-delivery guard.
	if conversation.HasMessageEvent(msg.MessageID) {
		return &TransitionResult{Conversation: conversation}, nil
	}

	member, err := s.members.GetByID(ctx, msg.PosterID)
	if err != nil {
		return nil, err
	}
	supportee := IsSupportee(member, room)
	now := s.clock.Now()

	messageEvent := domain.ConversationEvent{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		MemberID:       msg.PosterID,
		CreatedOn:      now,
		ThreadID:       msg.ThreadID,
		Type:           domain.EventMessagePosted,
		MessagePosted: &domain.MessagePostedPayload{
			MessageID:  msg.MessageID,
			MessageURL: msg.MessageURL,
			Supportee:  supportee,
			Metadata:   msg.Metadata,
		},
	}
	newEvents := []domain.ConversationEvent{messageEvent}

	if now.After(conversation.LastMessagePostedOn) {
		conversation.LastMessagePostedOn = now
	}
	if supportee || conversation.Property(domain.PropertyLastSupporteeMessageID) == "" {
		conversation.SetProperty(domain.PropertyLastSupporteeMessageID, msg.MessageID)
	}
	touchMember(conversation, msg.PosterID, now)

	oldState := conversation.State
	newState := nextStateForMessage(oldState, supportee)

	var pending []domain.MetricObservation
	var stateEvent *domain.ConversationEvent
	if newState != oldState {
		pending = s.prepareResponseMetrics(conversation, oldState, newState, member, now)
		conversation.State = newState
		conversation.LastStateChangeOn = now
		if oldState == domain.StateClosed {
			conversation.ClosedOn = nil
		}
		event := domain.ConversationEvent{
			ID:             uuid.NewString(),
			ConversationID: conversation.ID,
			MemberID:       msg.PosterID,
			CreatedOn:      now,
			Type:           domain.EventStateChanged,
			StateChanged: &domain.StateChangedPayload{
				OldState: oldState,
				NewState: newState,
				Implicit: true,
			},
		}
		stateEvent = &event
		newEvents = append(newEvents, event)
	}

	if err := s.conversations.CommitTransition(ctx, conversation, newEvents); err != nil {
		if repository.IsUniqueViolation(err) {
			// A concurrent delivery of the same message already landed.
			existing, readErr := s.conversations.GetByID(ctx, msg.ConversationID)
			if readErr != nil {
				return nil, readErr
			}
			return &TransitionResult{Conversation: existing}, nil
		}
		return nil, err
	}
	conversation.Events = append(conversation.Events, newEvents...)
	if stateEvent != nil {
		s.recordTransition(oldState, newState, true)
	}
	s.persistMetrics(ctx, pending)

	actor := events.Actor{MemberID: msg.PosterID, Supportee: supportee}
	s.publish(ctx, events.Event{
		Type:           events.EventMessagePosted,
		ConversationID: conversation.ID,
		Actor:          actor,
		Payload: events.MessagePostedPayload{
			MessageID:  msg.MessageID,
			MessageURL: msg.MessageURL,
			Supportee:  supportee,
		},
	})
	if stateEvent != nil {
		s.publish(ctx, events.Event{
			Type:           events.EventStateChanged,
			ConversationID: conversation.ID,
			Actor:          actor,
			Payload: events.StateChangedPayload{
				OldState: oldState,
				NewState: newState,
				Implicit: true,
			},
		})
	}
	return &TransitionResult{Conversation: conversation, Changed: stateEvent != nil, Event: stateEvent}, nil
}

// nextStateForMessage is the implicit transition table. Hidden rows only
// reach here when the room is managed, where they follow the New row.
func nextStateForMessage(current domain.State, supportee bool) domain.State {
	switch current {
	case domain.StateNew, domain.StateNeedsResponse, domain.StateOverdue, domain.StateHidden:
		if !supportee {
			return domain.StateWaiting
		}
	case domain.StateWaiting, domain.StateClosed:
		if supportee {
			return domain.StateNeedsResponse
		}
	}
	return current
}

// retryTransition runs apply, rereading and reapplying when the commit
// loses a version race. Each retry revalidates against the fresh aggregate,
// so a stimulus that became a no-op in the meantime resolves as one.
func (s *LifecycleService) retryTransition(ctx context.Context, apply func(context.Context) (*TransitionResult, error)) (*TransitionResult, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		result, err := apply(ctx)
		if err == nil || !errors.Is(err, repository.ErrVersionConflict) {
			return result, err
		}
		s.logger.Debug("transition lost version race, reapplying",
			zap.Int("attempt", attempt))
	}
	return nil, apperrors.NewConflict("conversation is being modified concurrently", nil)
}

// Close moves an active conversation to Closed and records time-to-close.
func (s *LifecycleService) Close(ctx context.Context, conversationID, actorID string) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		switch conversation.State {
		case domain.StateNew, domain.StateWaiting, domain.StateNeedsResponse, domain.StateOverdue:
		default:
			return &TransitionResult{Conversation: conversation}, nil
		}
		now := s.clock.Now()
		var pending []domain.MetricObservation
		if s.recorder != nil {
			member := s.lookupMember(ctx, actorID)
			pending = s.recorder.CloseObservations(conversation, member, now)
		}
		conversation.ClosedOn = &now
		result, err := s.commitExplicit(ctx, conversation, actorID, domain.StateClosed, now, true)
		if err != nil {
			return nil, err
		}
		s.persistMetrics(ctx, pending)
		return result, nil
	})
}

// Reopen moves a Closed conversation back to Waiting.
func (s *LifecycleService) Reopen(ctx context.Context, conversationID, actorID string) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conversation.State != domain.StateClosed {
			return &TransitionResult{Conversation: conversation}, nil
		}
		now := s.clock.Now()
		conversation.ClosedOn = nil
		return s.commitExplicit(ctx, conversation, actorID, domain.StateWaiting, now, true)
	})
}

// Archive moves any non-Archived conversation to Archived, closing it
// first if it was still open.
func (s *LifecycleService) Archive(ctx context.Context, conversationID, actorID string) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conversation.State == domain.StateArchived {
			return &TransitionResult{Conversation: conversation}, nil
		}
		now := s.clock.Now()
		conversation.ArchivedOn = &now
		if conversation.ClosedOn == nil {
			conversation.ClosedOn = &now
		}
		return s.commitExplicit(ctx, conversation, actorID, domain.StateArchived, now, true)
	})
}

// Unarchive restores an Archived conversation to Closed.
func (s *LifecycleService) Unarchive(ctx context.Context, conversationID, actorID string) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conversation.State != domain.StateArchived {
			return &TransitionResult{Conversation: conversation}, nil
		}
		now := s.clock.Now()
		conversation.ArchivedOn = nil
		return s.commitExplicit(ctx, conversation, actorID, domain.StateClosed, now, true)
	})
}

// Snooze overlays Snoozed on any state except Archived. The prior state is
// recoverable from the timeline; LastStateChangeOn is left untouched so
// snoozing does not reset SLA aging.
func (s *LifecycleService) Snooze(ctx context.Context, conversationID, actorID string) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conversation.State == domain.StateArchived || conversation.State == domain.StateSnoozed {
			return &TransitionResult{Conversation: conversation}, nil
		}
		now := s.clock.Now()
		return s.commitExplicit(ctx, conversation, actorID, domain.StateSnoozed, now, false)
	})
}

// Wake restores the state that was active immediately before the snooze.
func (s *LifecycleService) Wake(ctx context.Context, conversationID, actorID string) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conversation.State != domain.StateSnoozed {
			return &TransitionResult{Conversation: conversation}, nil
		}
		restored := preSnoozeState(conversation)
		now := s.clock.Now()
		return s.commitExplicit(ctx, conversation, actorID, restored, now, false)
	})
}

// MarkOverdue flags a conversation whose SLA deadline has passed. Only
// conversations still awaiting a response can go overdue; closed, archived,
// snoozed, or hidden ones are left untouched.
func (s *LifecycleService) MarkOverdue(ctx context.Context, conversationID, actorID string) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if !IsOverdueCandidate(conversation) {
			return &TransitionResult{Conversation: conversation}, nil
		}
		now := s.clock.Now()
		return s.commitExplicit(ctx, conversation, actorID, domain.StateOverdue, now, true)
	})
}

// AttachToHub records a hub attachment on the timeline.
func (s *LifecycleService) AttachToHub(ctx context.Context, conversationID, actorID, hubID, hubThreadID string) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conversation.Hub != nil && conversation.Hub.HubID == hubID && conversation.Hub.HubThreadID == hubThreadID {
			return &TransitionResult{Conversation: conversation}, nil
		}
		now := s.clock.Now()
		conversation.Hub = &domain.HubAttachment{HubID: hubID, HubThreadID: hubThreadID}
		event := domain.ConversationEvent{
			ID:             uuid.NewString(),
			ConversationID: conversation.ID,
			MemberID:       actorID,
			CreatedOn:      now,
			Type:           domain.EventAttachedToHub,
			AttachedToHub:  &domain.AttachedToHubPayload{HubID: hubID, HubThreadID: hubThreadID},
		}
		if err := s.conversations.CommitTransition(ctx, conversation, []domain.ConversationEvent{event}); err != nil {
			return nil, err
		}
		conversation.Events = append(conversation.Events, event)
		return &TransitionResult{Conversation: conversation, Changed: true, Event: &event}, nil
	})
}

// AttachLink records an external ticket link on the timeline.
func (s *LifecycleService) AttachLink(ctx context.Context, conversationID, actorID string, link domain.ConversationLink) (*TransitionResult, error) {
	return s.retryTransition(ctx, func(ctx context.Context) (*TransitionResult, error) {
		conversation, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		for _, event := range conversation.Events {
			if event.Type == domain.EventConversationLinked && event.Linked != nil &&
				event.Linked.Provider == link.Provider && event.Linked.ExternalKey == link.ExternalKey {
				return &TransitionResult{Conversation: conversation}, nil
			}
		}
		now := s.clock.Now()
		if link.ID == "" {
			link.ID = uuid.NewString()
		}
		link.ConversationID = conversation.ID
		link.CreatedOn = now
		conversation.Links = append(conversation.Links, link)
		event := domain.ConversationEvent{
			ID:             uuid.NewString(),
			ConversationID: conversation.ID,
			MemberID:       actorID,
			CreatedOn:      now,
			Type:           domain.EventConversationLinked,
			Linked: &domain.ConversationLinkedPayload{
				LinkID:      link.ID,
				Provider:    link.Provider,
				ExternalKey: link.ExternalKey,
			},
		}
		if err := s.conversations.CommitTransition(ctx, conversation, []domain.ConversationEvent{event}); err != nil {
			return nil, err
		}
		conversation.Events = append(conversation.Events, event)
		return &TransitionResult{Conversation: conversation, Changed: true, Event: &event}, nil
	})
}

// commitExplicit applies an explicit state change that the caller has
// already validated, persisting the event and the aggregate as one unit and
// emitting the state-change notification.
func (s *LifecycleService) commitExplicit(ctx context.Context, conversation *domain.Conversation, actorID string, newState domain.State, now time.Time, touchLastChange bool) (*TransitionResult, error) {
	oldState := conversation.State
	conversation.State = newState
	if touchLastChange {
		conversation.LastStateChangeOn = now
	}
	event := domain.ConversationEvent{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		MemberID:       actorID,
		CreatedOn:      now,
		Type:           domain.EventStateChanged,
		StateChanged: &domain.StateChangedPayload{
			OldState: oldState,
			NewState: newState,
			Implicit: false,
		},
	}
	if err := s.conversations.CommitTransition(ctx, conversation, []domain.ConversationEvent{event}); err != nil {
		return nil, err
	}
	conversation.Events = append(conversation.Events, event)
	s.recordTransition(oldState, newState, false)
	s.publish(ctx, events.Event{
		Type:           events.EventStateChanged,
		ConversationID: conversation.ID,
		Actor:          events.Actor{MemberID: actorID},
		Payload: events.StateChangedPayload{
			OldState: oldState,
			NewState: newState,
			Implicit: false,
		},
	})
	return &TransitionResult{Conversation: conversation, Changed: true, Event: &event}, nil
}

// prepareResponseMetrics builds the response observations for a qualifying
// transition into Waiting and stamps FirstResponseOn. The observations are
// persisted only after the transition commits.
func (s *LifecycleService) prepareResponseMetrics(conversation *domain.Conversation, oldState, newState domain.State, responder *domain.Member, now time.Time) []domain.MetricObservation {
	if s.recorder == nil || newState != domain.StateWaiting {
		return nil
	}
	switch oldState {
	case domain.StateNew, domain.StateNeedsResponse, domain.StateOverdue:
	default:
		return nil
	}
	observations, first := s.recorder.ResponseObservations(conversation, oldState, responder, now)
	if first {
		conversation.FirstResponseOn = &now
	}
	return observations
}

func (s *LifecycleService) persistMetrics(ctx context.Context, observations []domain.MetricObservation) {
	if s.recorder == nil || len(observations) == 0 {
		return
	}
	if err := s.recorder.Persist(ctx, observations); err != nil {
		// The transition is already durable; losing an observation is not
		// worth failing the stimulus over.
		s.logger.Error("metric persistence failed", zap.Error(err))
	}
}

// preSnoozeState derives the state active before the current snooze from
// the timeline.
func preSnoozeState(conversation *domain.Conversation) domain.State {
	changes := conversation.StateChanges()
	for i := len(changes) - 1; i >= 0; i-- {
		if changes[i].StateChanged.NewState == domain.StateSnoozed {
			return changes[i].StateChanged.OldState
		}
	}
	return domain.StateNew
}

func touchMember(conversation *domain.Conversation, memberID string, now time.Time) {
	for i := range conversation.Members {
		if conversation.Members[i].MemberID == memberID {
			conversation.Members[i].LastPostedOn = &now
			return
		}
	}
	conversation.Members = append(conversation.Members, domain.ConversationMember{
		MemberID:     memberID,
		JoinedOn:     now,
		LastPostedOn: &now,
	})
}

func (s *LifecycleService) lookupMember(ctx context.Context, memberID string) *domain.Member {
	if memberID == "" {
		return nil
	}
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		s.logger.Debug("member lookup failed", zap.String("member_id", memberID), zap.Error(err))
		return nil
	}
	return member
}

func (s *LifecycleService) recordTransition(oldState, newState domain.State, implicit bool) {
	if s.metrics != nil {
		s.metrics.RecordTransition(string(oldState), string(newState), implicit)
	}
}

func (s *LifecycleService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
