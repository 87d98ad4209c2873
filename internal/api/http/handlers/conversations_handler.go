package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/conversation-service/internal/api/dto"
	"github.com/spec-kit/conversation-service/internal/auth"
	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/repository"
	"github.com/spec-kit/conversation-service/internal/service"
	apperrors "github.com/spec-kit/conversation-service/pkg/util"
)

// ConversationsHandler manages conversation lifecycle endpoints.
type ConversationsHandler struct {
	lifecycle *service.LifecycleService
	repo      repository.ConversationRepository
}

// NewConversationsHandler constructs handler.
func NewConversationsHandler(lifecycle *service.LifecycleService, repo repository.ConversationRepository) *ConversationsHandler {
	return &ConversationsHandler{lifecycle: lifecycle, repo: repo}
}

// Create POST /conversations.
func (h *ConversationsHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.OrgID == "" || req.RoomID == "" || req.FirstMessageID == "" || req.PosterID == "" {
		return apperrors.NewValidationError("org_id, room_id, first_message_id, poster_id required", nil)
	}

	input := service.NewConversationInput{
		OrgID:          req.OrgID,
		RoomID:         req.RoomID,
		Title:          req.Title,
		FirstMessageID: req.FirstMessageID,
		MessageURL:     req.MessageURL,
		PosterID:       req.PosterID,
		ThreadID:       req.ThreadID,
	}
	if req.PostedAt != nil {
		input.PostedAt = *req.PostedAt
	}
	conversation, err := h.lifecycle.CreateConversation(c.Context(), input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.FromConversation(conversation)})
}

// PostMessage POST /conversations/:id/messages.
func (h *ConversationsHandler) PostMessage(c *fiber.Ctx) error {
	var req dto.PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.MessageID) == "" || req.PosterID == "" {
		return apperrors.NewValidationError("message_id, poster_id required", nil)
	}

	result, err := h.lifecycle.ApplyMessage(c.Context(), service.InboundMessage{
		ConversationID: c.Params("id"),
		MessageID:      req.MessageID,
		MessageURL:     req.MessageURL,
		PosterID:       req.PosterID,
		ThreadID:       req.ThreadID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": transitionResponse(result)})
}

// Get GET /conversations/:id.
func (h *ConversationsHandler) Get(c *fiber.Ctx) error {
	conversation, err := h.repo.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	detail := dto.ConversationDetailResponse{
		ConversationSummary: dto.FromConversation(conversation),
		Timeline:            dto.TimelineFromEvents(conversation.Events),
	}
	return c.JSON(fiber.Map{"data": detail})
}

// Close POST /conversations/:id/close.
func (h *ConversationsHandler) Close(c *fiber.Ctx) error {
	return h.explicit(c, h.lifecycle.Close)
}

// Reopen POST /conversations/:id/reopen.
func (h *ConversationsHandler) Reopen(c *fiber.Ctx) error {
	return h.explicit(c, h.lifecycle.Reopen)
}

// Archive POST /conversations/:id/archive.
func (h *ConversationsHandler) Archive(c *fiber.Ctx) error {
	return h.explicit(c, h.lifecycle.Archive)
}

// Unarchive POST /conversations/:id/unarchive.
func (h *ConversationsHandler) Unarchive(c *fiber.Ctx) error {
	return h.explicit(c, h.lifecycle.Unarchive)
}

// Snooze POST /conversations/:id/snooze.
func (h *ConversationsHandler) Snooze(c *fiber.Ctx) error {
	return h.explicit(c, h.lifecycle.Snooze)
}

// Wake POST /conversations/:id/wake.
func (h *ConversationsHandler) Wake(c *fiber.Ctx) error {
	return h.explicit(c, h.lifecycle.Wake)
}

// AttachHub POST /conversations/:id/hub.
func (h *ConversationsHandler) AttachHub(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("member required")
	}
	var req dto.AttachHubRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.HubID == "" || req.HubThreadID == "" {
		return apperrors.NewValidationError("hub_id, hub_thread_id required", nil)
	}
	result, err := h.lifecycle.AttachToHub(c.Context(), c.Params("id"), principal.MemberID, req.HubID, req.HubThreadID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": transitionResponse(result)})
}

// AttachLink POST /conversations/:id/links.
func (h *ConversationsHandler) AttachLink(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("member required")
	}
	var req dto.AttachLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Provider == "" || req.ExternalKey == "" {
		return apperrors.NewValidationError("provider, external_key required", nil)
	}
	result, err := h.lifecycle.AttachLink(c.Context(), c.Params("id"), principal.MemberID, domain.ConversationLink{
		Provider:    req.Provider,
		ExternalKey: req.ExternalKey,
		URL:         req.URL,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": transitionResponse(result)})
}

func (h *ConversationsHandler) explicit(c *fiber.Ctx, transition func(ctx context.Context, conversationID, actorID string) (*service.TransitionResult, error)) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("member required")
	}
	result, err := transition(c.Context(), c.Params("id"), principal.MemberID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": transitionResponse(result)})
}

func transitionResponse(result *service.TransitionResult) dto.TransitionResponse {
	return dto.TransitionResponse{
		Conversation: dto.FromConversation(result.Conversation),
		Changed:      result.Changed,
	}
}
