package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/conversation-service/internal/events"
)

// Publisher delivers state-change records to an external channel for
// downstream notification fan-out.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// NotificationService forwards dispatcher events to the configured
// publisher. Delivery failures are logged, not propagated; the state
// machine's write is already durable by the time these handlers run.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  Publisher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, publisher Publisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{dispatcher: dispatcher, publisher: publisher, logger: logger}
}

// RegisterHandlers subscribes the forwarder to every outward-facing
// conversation event type.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	events.SubscribeAll(n.dispatcher, n.forward,
		events.EventConversationCreated,
		events.EventStateChanged,
		events.EventOverdueWarning,
	)
}

func (n *NotificationService) forward(ctx context.Context, event events.Event) error {
	n.logger.Info("conversation event",
		zap.String("type", string(event.Type)),
		zap.String("conversation_id", event.ConversationID),
		zap.Any("payload", event.Payload))
	if n.publisher == nil {
		return nil
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.Warn("notification publish failed",
			zap.String("type", string(event.Type)),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err))
	}
	return nil
}
