package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/conversation-service/internal/api/dto"
	"github.com/spec-kit/conversation-service/internal/auth"
	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/service"
	apperrors "github.com/spec-kit/conversation-service/pkg/util"
)

// InsightsHandler serves rollup queries.
type InsightsHandler struct {
	insights *service.InsightsService
}

// NewInsightsHandler constructs handler.
func NewInsightsHandler(insights *service.InsightsService) *InsightsHandler {
	return &InsightsHandler{insights: insights}
}

// Query GET /insights.
func (h *InsightsHandler) Query(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("member required")
	}

	query := service.InsightsQuery{
		OrgID:      principal.OrgID,
		Rooms:      parseRoomSelector(c, principal),
		WindowDays: parseInt(c.Query("window_days"), 7),
		TimeZone:   c.Query("time_zone", "UTC"),
	}
	if tags := c.Query("tags"); tags != "" {
		for _, part := range strings.Split(tags, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				query.Tags = append(query.Tags, trimmed)
			}
		}
	}
	if anchor := parseTime(c.Query("anchor")); anchor != nil {
		query.Anchor = *anchor
	}

	report, err := h.insights.Query(c.Context(), query)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromReport(report)})
}

func parseRoomSelector(c *fiber.Ctx, principal *auth.Principal) service.RoomSelector {
	if roomsParam := c.Query("rooms"); roomsParam != "" {
		ids := make([]string, 0)
		for _, part := range strings.Split(roomsParam, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				ids = append(ids, trimmed)
			}
		}
		return service.RoomSelector{Kind: service.RoomSelectorIDs, RoomIDs: ids}
	}
	if role := c.Query("role"); role != "" {
		return service.RoomSelector{
			Kind:     service.RoomSelectorMemberRole,
			MemberID: principal.MemberID,
			Role:     domain.RoomRole(role),
		}
	}
	return service.RoomSelector{Kind: service.RoomSelectorAll}
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseInt(val string, fallback int) int {
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
