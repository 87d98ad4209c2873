package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/repository"
)

// BreachLevel classifies a conversation against its SLA as of some instant.
type BreachLevel string

const (
	BreachNone     BreachLevel = "NONE"
	BreachPending  BreachLevel = "PENDING"
	BreachWarning  BreachLevel = "WARNING"
	BreachCritical BreachLevel = "CRITICAL"
)

// SlaService resolves effective response-time thresholds and classifies
// conversations against them. Resolved thresholds are cached in Redis for a
// short interval; a nil cache client disables caching.
type SlaService struct {
	rooms    repository.RoomRepository
	orgs     repository.OrganizationRepository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewSlaService constructs the service.
func NewSlaService(rooms repository.RoomRepository, orgs repository.OrganizationRepository, cache *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *SlaService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlaService{rooms: rooms, orgs: orgs, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

type cachedThreshold struct {
	Absent          bool   `json:"absent"`
	WarningSeconds  *int64 `json:"warning_seconds,omitempty"`
	DeadlineSeconds *int64 `json:"deadline_seconds,omitempty"`
}

// EffectiveThreshold resolves the threshold for a room: the room override
// wins, otherwise the organization default, otherwise nil (no SLA — the
// room is excluded from SLA-driven computation, which is not an error).
func (s *SlaService) EffectiveThreshold(ctx context.Context, room *domain.Room) (*domain.Threshold, error) {
	if room.Threshold != nil && !room.Threshold.IsZero() {
		return room.Threshold, nil
	}
	if cached, ok := s.cacheGet(ctx, room.ID); ok {
		return cached, nil
	}
	org, err := s.orgs.GetByID(ctx, room.OrgID)
	if err != nil {
		return nil, err
	}
	threshold := org.DefaultThreshold
	if threshold != nil && threshold.IsZero() {
		threshold = nil
	}
	s.cacheSet(ctx, room.ID, threshold)
	return threshold, nil
}

// InvalidateThreshold drops the cached resolution after a policy write.
func (s *SlaService) InvalidateThreshold(ctx context.Context, roomID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, thresholdCacheKey(roomID)).Err(); err != nil {
		s.logger.Warn("threshold cache invalidation failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

// SlaStart is the instant SLA aging is measured from: the later of the
// conversation's creation and its last substantive state change.
func SlaStart(conversation *domain.Conversation) time.Time {
	if conversation.LastStateChangeOn.After(conversation.CreatedOn) {
		return conversation.LastStateChangeOn
	}
	return conversation.CreatedOn
}

// BreachInstants converts a threshold and a start instant into the absolute
// instants at which warning and critical breach begin.
func BreachInstants(threshold domain.Threshold, startedAt time.Time) (warnAt, dueAt *time.Time) {
	if threshold.Warning != nil {
		at := startedAt.Add(*threshold.Warning)
		warnAt = &at
	}
	if threshold.Deadline != nil {
		at := startedAt.Add(*threshold.Deadline)
		dueAt = &at
	}
	return warnAt, dueAt
}

// Classify places now in the threshold's windows: warning is
// [start+warning, start+deadline), critical is [start+deadline, oo).
func Classify(threshold *domain.Threshold, startedAt, now time.Time) BreachLevel {
	if threshold == nil || threshold.IsZero() {
		return BreachNone
	}
	warnAt, dueAt := BreachInstants(*threshold, startedAt)
	if dueAt != nil && !now.Before(*dueAt) {
		return BreachCritical
	}
	if warnAt != nil && !now.Before(*warnAt) {
		return BreachWarning
	}
	return BreachPending
}

// OverdueCandidateStates lists states in which a conversation can still be
// flagged overdue. Closed, Archived, Snoozed and already-Overdue
// conversations are not candidates.
func OverdueCandidateStates() []domain.State {
	return []domain.State{domain.StateNew, domain.StateWaiting, domain.StateNeedsResponse}
}

// IsOverdueCandidate reports whether the conversation's current state makes
// it eligible for the overdue sweep.
func IsOverdueCandidate(conversation *domain.Conversation) bool {
	for _, state := range OverdueCandidateStates() {
		if conversation.State == state {
			return true
		}
	}
	return false
}

func (s *SlaService) cacheGet(ctx context.Context, roomID string) (*domain.Threshold, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, thresholdCacheKey(roomID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("threshold cache read failed", zap.String("room_id", roomID), zap.Error(err))
		}
		return nil, false
	}
	var cached cachedThreshold
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	if cached.Absent {
		return nil, true
	}
	threshold := &domain.Threshold{}
	if cached.WarningSeconds != nil {
		warning := time.Duration(*cached.WarningSeconds) * time.Second
		threshold.Warning = &warning
	}
	if cached.DeadlineSeconds != nil {
		deadline := time.Duration(*cached.DeadlineSeconds) * time.Second
		threshold.Deadline = &deadline
	}
	return threshold, true
}

func (s *SlaService) cacheSet(ctx context.Context, roomID string, threshold *domain.Threshold) {
	if s.cache == nil {
		return
	}
	cached := cachedThreshold{Absent: threshold == nil}
	if threshold != nil {
		if threshold.Warning != nil {
			seconds := int64(threshold.Warning.Seconds())
			cached.WarningSeconds = &seconds
		}
		if threshold.Deadline != nil {
			seconds := int64(threshold.Deadline.Seconds())
			cached.DeadlineSeconds = &seconds
		}
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, thresholdCacheKey(roomID), raw, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("threshold cache write failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func thresholdCacheKey(roomID string) string {
	return "sla:threshold:" + roomID
}
