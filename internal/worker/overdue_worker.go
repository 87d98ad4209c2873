package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/events"
	"github.com/spec-kit/conversation-service/internal/observability"
	"github.com/spec-kit/conversation-service/internal/repository"
	"github.com/spec-kit/conversation-service/internal/service"
)

// OverdueWorker periodically classifies SLA candidates and marks the ones
// past their deadline as overdue. Rooms without an effective threshold are
// skipped; that is policy absence, not an error.
type OverdueWorker struct {
	conversations repository.ConversationRepository
	rooms         repository.RoomRepository
	lifecycle     *service.LifecycleService
	sla           *service.SlaService
	dispatcher    events.Dispatcher
	metrics       *observability.Metrics
	clock         service.Clock
	interval      time.Duration
	logger        *zap.Logger
}

// OverdueWorkerDependencies bundles collaborators for the worker.
type OverdueWorkerDependencies struct {
	ConversationRepo repository.ConversationRepository
	RoomRepo         repository.RoomRepository
	Lifecycle        *service.LifecycleService
	Sla              *service.SlaService
	Dispatcher       events.Dispatcher
	Metrics          *observability.Metrics
	Clock            service.Clock
	Interval         time.Duration
	Logger           *zap.Logger
}

// NewOverdueWorker constructs the worker.
func NewOverdueWorker(deps OverdueWorkerDependencies) *OverdueWorker {
	clock := deps.Clock
	if clock == nil {
		clock = service.SystemClock()
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverdueWorker{
		conversations: deps.ConversationRepo,
		rooms:         deps.RoomRepo,
		lifecycle:     deps.Lifecycle,
		sla:           deps.Sla,
		dispatcher:    deps.Dispatcher,
		metrics:       deps.Metrics,
		clock:         clock,
		interval:      interval,
		logger:        logger,
	}
}

// Run sweeps until the context is cancelled.
func (w *OverdueWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("overdue sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass over the current SLA candidates.
func (w *OverdueWorker) Sweep(ctx context.Context) error {
	candidates, err := w.conversations.ListByStates(ctx, service.OverdueCandidateStates())
	if err != nil {
		return err
	}
	now := w.clock.Now()
	flagged := 0
	rooms := map[string]*domain.Room{}
	thresholds := map[string]*domain.Threshold{}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		conversation := &candidates[i]

		room, ok := rooms[conversation.RoomID]
		if !ok {
			room, err = w.rooms.GetByID(ctx, conversation.RoomID)
			if err != nil {
				w.logger.Warn("room lookup failed",
					zap.String("room_id", conversation.RoomID), zap.Error(err))
				continue
			}
			rooms[conversation.RoomID] = room
			thresholds[conversation.RoomID], err = w.sla.EffectiveThreshold(ctx, room)
			if err != nil {
				return err
			}
		}
		threshold := thresholds[conversation.RoomID]
		if threshold == nil {
			continue
		}

		startedAt := service.SlaStart(conversation)
		switch service.Classify(threshold, startedAt, now) {
		case service.BreachCritical:
			result, err := w.lifecycle.MarkOverdue(ctx, conversation.ID, "")
			if err != nil {
				w.logger.Error("mark overdue failed",
					zap.String("conversation_id", conversation.ID), zap.Error(err))
				continue
			}
			if result.Changed {
				flagged++
				w.publishWarning(ctx, conversation, threshold, startedAt, "critical")
			}
		case service.BreachWarning:
			w.publishWarning(ctx, conversation, threshold, startedAt, "warning")
		}
	}

	if w.metrics != nil {
		w.metrics.RecordSweep(len(candidates), flagged)
	}
	w.logger.Debug("overdue sweep complete",
		zap.Int("candidates", len(candidates)), zap.Int("flagged", flagged))
	return nil
}

func (w *OverdueWorker) publishWarning(ctx context.Context, conversation *domain.Conversation, threshold *domain.Threshold, startedAt time.Time, level string) {
	if w.dispatcher == nil {
		return
	}
	_, dueAt := service.BreachInstants(*threshold, startedAt)
	_ = w.dispatcher.Publish(ctx, events.Event{
		ID:             uuid.NewString(),
		Type:           events.EventOverdueWarning,
		ConversationID: conversation.ID,
		Timestamp:      w.clock.Now(),
		Payload: events.OverdueWarningPayload{
			RoomID: conversation.RoomID,
			Level:  level,
			DueAt:  dueAt,
		},
	})
}
