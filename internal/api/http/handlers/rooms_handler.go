package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/conversation-service/internal/api/dto"
	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/repository"
	"github.com/spec-kit/conversation-service/internal/service"
	apperrors "github.com/spec-kit/conversation-service/pkg/util"
)

// RoomsHandler manages room SLA policy endpoints.
type RoomsHandler struct {
	rooms repository.RoomRepository
	sla   *service.SlaService
}

// NewRoomsHandler constructs handler.
func NewRoomsHandler(rooms repository.RoomRepository, sla *service.SlaService) *RoomsHandler {
	return &RoomsHandler{rooms: rooms, sla: sla}
}

// SetThreshold PUT /rooms/:id/threshold. A body with both sides null
// clears the room override so the org default applies again.
func (h *RoomsHandler) SetThreshold(c *fiber.Ctx) error {
	var req dto.SetThresholdRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.WarningSeconds != nil && *req.WarningSeconds <= 0 {
		return apperrors.NewValidationError("warning_seconds must be positive", nil)
	}
	if req.DeadlineSeconds != nil && *req.DeadlineSeconds <= 0 {
		return apperrors.NewValidationError("deadline_seconds must be positive", nil)
	}
	if req.WarningSeconds != nil && req.DeadlineSeconds != nil && *req.WarningSeconds >= *req.DeadlineSeconds {
		return apperrors.NewValidationError("warning_seconds must be below deadline_seconds", nil)
	}

	roomID := c.Params("id")
	if _, err := h.rooms.GetByID(c.Context(), roomID); err != nil {
		return err
	}

	var threshold *domain.Threshold
	if req.WarningSeconds != nil || req.DeadlineSeconds != nil {
		threshold = &domain.Threshold{}
		if req.WarningSeconds != nil {
			warning := time.Duration(*req.WarningSeconds) * time.Second
			threshold.Warning = &warning
		}
		if req.DeadlineSeconds != nil {
			deadline := time.Duration(*req.DeadlineSeconds) * time.Second
			threshold.Deadline = &deadline
		}
	}
	if err := h.rooms.SetThreshold(c.Context(), roomID, threshold); err != nil {
		return err
	}
	h.sla.InvalidateThreshold(c.Context(), roomID)

	return c.JSON(fiber.Map{"data": fiber.Map{"room_id": roomID, "updated": true}})
}
