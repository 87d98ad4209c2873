package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/observability"
	"github.com/spec-kit/conversation-service/internal/repository"
	apperrors "github.com/spec-kit/conversation-service/pkg/util"
)

// RoomSelectorKind enumerates room filtering modes for insight queries.
type RoomSelectorKind string

const (
	RoomSelectorAll        RoomSelectorKind = "ALL"
	RoomSelectorIDs        RoomSelectorKind = "ROOM_IDS"
	RoomSelectorMemberRole RoomSelectorKind = "MEMBER_ROLE"
)

// RoomSelector picks the rooms an insight query covers.
type RoomSelector struct {
	Kind     RoomSelectorKind
	RoomIDs  []string
	MemberID string
	Role     domain.RoomRole
}

// InsightsQuery describes a rollup request. A zero Anchor means "now".
// Tags empty means all conversations.
type InsightsQuery struct {
	OrgID      string
	Rooms      RoomSelector
	Tags       []string
	WindowDays int
	Anchor     time.Time
	TimeZone   string
}

// DayBucket aggregates one local calendar day. The bucket covers
// [Start, End): End is the next local midnight, so consecutive buckets
// tile the window with no gap and no instant belongs to two days.
type DayBucket struct {
	Date    string    `json:"date"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	New     int       `json:"new"`
	Open    int       `json:"open"`
	Overdue int       `json:"overdue"`
	Closed  int       `json:"closed"`
}

// InsightsSummary aggregates the whole window.
type InsightsSummary struct {
	Opened            int `json:"opened"`
	Responded         int `json:"responded"`
	NeededAttention   int `json:"needed_attention"`
	WentOverdue       int `json:"went_overdue"`
	Reopened          int `json:"reopened"`
	ClosedAtPeriodEnd int `json:"closed_at_period_end"`
}

// InsightsReport is the rollup result: one bucket per local day covering
// [anchor - windowDays, anchor), plus window-wide summary counters.
type InsightsReport struct {
	TimeZone string          `json:"time_zone"`
	Buckets  []DayBucket     `json:"buckets"`
	Summary  InsightsSummary `json:"summary"`
}

// InsightsService computes time-windowed rollups over conversation event
// histories. It is read-only; conversations are independent, so the
// per-conversation work could be parallelized, but histories are small
// enough that a single pass with cancellation checks suffices.
type InsightsService struct {
	conversations repository.ConversationRepository
	rooms         repository.RoomRepository
	metrics       *observability.Metrics
	clock         Clock
	logger        *zap.Logger
}

// NewInsightsService constructs the service.
func NewInsightsService(conversations repository.ConversationRepository, rooms repository.RoomRepository, metrics *observability.Metrics, clock Clock, logger *zap.Logger) *InsightsService {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InsightsService{conversations: conversations, rooms: rooms, metrics: metrics, clock: clock, logger: logger}
}

// Query validates preconditions, loads candidate histories, and aggregates.
func (s *InsightsService) Query(ctx context.Context, query InsightsQuery) (*InsightsReport, error) {
	if query.WindowDays <= 0 {
		return nil, apperrors.NewValidationError("window size must be positive", map[string]any{"window_days": query.WindowDays})
	}
	loc, err := time.LoadLocation(query.TimeZone)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid time zone", map[string]any{"time_zone": query.TimeZone})
	}
	anchor := query.Anchor
	if anchor.IsZero() {
		anchor = s.clock.Now()
	}

	started := s.clock.Now()
	buckets := buildDayBuckets(anchor, query.WindowDays, loc)
	windowStart := buckets[0].Start
	windowEnd := buckets[len(buckets)-1].End

	roomIDs, restricted, err := s.resolveRooms(ctx, query.Rooms)
	if err != nil {
		return nil, err
	}

	report := &InsightsReport{TimeZone: query.TimeZone, Buckets: buckets}
	if restricted && len(roomIDs) == 0 {
		return report, nil
	}

	conversations, err := s.conversations.ListHistories(ctx, repository.HistoryFilter{
		OrgID:         query.OrgID,
		RoomIDs:       roomIDs,
		Tags:          query.Tags,
		CreatedBefore: &windowEnd,
	})
	if err != nil {
		return nil, err
	}

	for i := range conversations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		accumulate(report, &conversations[i], windowStart, windowEnd)
	}

	if s.metrics != nil {
		s.metrics.ObserveRollup(s.clock.Now().Sub(started).Seconds(), len(conversations))
	}
	return report, nil
}

func (s *InsightsService) resolveRooms(ctx context.Context, selector RoomSelector) (roomIDs []string, restricted bool, err error) {
	switch selector.Kind {
	case RoomSelectorAll, "":
		return nil, false, nil
	case RoomSelectorIDs:
		return selector.RoomIDs, true, nil
	case RoomSelectorMemberRole:
		roomIDs, err := s.rooms.ListRoomIDsForRole(ctx, selector.MemberID, selector.Role)
		if err != nil {
			return nil, false, err
		}
		return roomIDs, true, nil
	default:
		return nil, false, apperrors.NewValidationError("unknown room selector", map[string]any{"kind": selector.Kind})
	}
}

// buildDayBuckets returns one bucket per local calendar day covering
// [anchorDay - windowDays, anchorDay), exclusive of the anchor day. Local
// midnights are computed in loc, so bucket boundaries track DST.
func buildDayBuckets(anchor time.Time, windowDays int, loc *time.Location) []DayBucket {
	localAnchor := anchor.In(loc)
	anchorDay := time.Date(localAnchor.Year(), localAnchor.Month(), localAnchor.Day(), 0, 0, 0, 0, loc)
	buckets := make([]DayBucket, 0, windowDays)
	for i := windowDays; i >= 1; i-- {
		dayStart := anchorDay.AddDate(0, 0, -i)
		dayEnd := dayStart.AddDate(0, 0, 1)
		buckets = append(buckets, DayBucket{
			Date:  dayStart.Format("2006-01-02"),
			Start: dayStart.UTC(),
			End:   dayEnd.UTC(),
		})
	}
	return buckets
}

func accumulate(report *InsightsReport, conversation *domain.Conversation, windowStart, windowEnd time.Time) {
	segments := stateSegments(conversation)
	changes := changesWithin(conversation, windowStart, windowEnd)

	for i := range report.Buckets {
		bucket := &report.Buckets[i]
		if within(conversation.CreatedOn, bucket.Start, bucket.End) {
			bucket.New++
		}
		if conversation.CreatedOn.Before(bucket.End) &&
			(conversation.ClosedOn == nil || conversation.ClosedOn.After(bucket.Start)) {
			bucket.Open++
		}
		if inStatesDuring(segments, bucket.Start, bucket.End, domain.StateOverdue) {
			bucket.Overdue++
		}
		if last := lastChangeWithin(conversation, bucket.Start, bucket.End); last != nil && last.NewState == domain.StateClosed {
			bucket.Closed++
		}
	}

	summary := &report.Summary
	if within(conversation.CreatedOn, windowStart, windowEnd) {
		summary.Opened++
	}
	if inStatesDuring(segments, windowStart, windowEnd, domain.StateNew, domain.StateNeedsResponse, domain.StateOverdue) {
		summary.NeededAttention++
	}

	responded := false
	wentOverdue := false
	reopened := false
	for _, change := range changes {
		if !responded && change.NewState == domain.StateWaiting {
			switch change.OldState {
			case domain.StateNew, domain.StateNeedsResponse, domain.StateOverdue:
				responded = true
			}
		}
		if !wentOverdue && change.NewState == domain.StateOverdue && change.OldState != domain.StateOverdue {
			wentOverdue = true
		}
		if !reopened && isReopenTransition(change.OldState, change.NewState) {
			reopened = true
		}
	}
	if responded {
		summary.Responded++
	}
	// A conversation already overdue when the window opens is not counted
	// again just for persisting.
	if wentOverdue && stateAt(segments, windowStart) != domain.StateOverdue {
		summary.WentOverdue++
	}
	if reopened {
		summary.Reopened++
	}
	if last := lastChangeWithin(conversation, windowStart, windowEnd); last != nil && last.NewState == domain.StateClosed {
		summary.ClosedAtPeriodEnd++
	}
}

// isReopenTransition treats any closed-to-active change as a reopen,
// regardless of the specific pair.
func isReopenTransition(oldState, newState domain.State) bool {
	if oldState != domain.StateClosed && oldState != domain.StateArchived {
		return false
	}
	switch newState {
	case domain.StateNeedsResponse, domain.StateWaiting, domain.StateArchived:
		return oldState != newState
	}
	return false
}

type stateSegment struct {
	state domain.State
	from  time.Time
	to    time.Time // zero means open-ended
}

// stateSegments reconstructs the conversation's state over time from its
// state-change events. With no changes the current state holds from
// creation onward.
func stateSegments(conversation *domain.Conversation) []stateSegment {
	changes := conversation.StateChanges()
	if len(changes) == 0 {
		return []stateSegment{{state: conversation.State, from: conversation.CreatedOn}}
	}
	segments := []stateSegment{{
		state: changes[0].StateChanged.OldState,
		from:  conversation.CreatedOn,
		to:    changes[0].CreatedOn,
	}}
	for i, change := range changes {
		segment := stateSegment{state: change.StateChanged.NewState, from: change.CreatedOn}
		if i+1 < len(changes) {
			segment.to = changes[i+1].CreatedOn
		}
		segments = append(segments, segment)
	}
	return segments
}

// inStatesDuring reports whether any segment in one of states overlaps the
// half-open range [from, to).
func inStatesDuring(segments []stateSegment, from, to time.Time, states ...domain.State) bool {
	for _, segment := range segments {
		if !segment.from.Before(to) {
			break
		}
		if !segment.to.IsZero() && !segment.to.After(from) {
			continue
		}
		for _, state := range states {
			if segment.state == state {
				return true
			}
		}
	}
	return false
}

func stateAt(segments []stateSegment, at time.Time) domain.State {
	state := domain.StateUnknown
	for _, segment := range segments {
		if segment.from.After(at) {
			break
		}
		state = segment.state
	}
	return state
}

func changesWithin(conversation *domain.Conversation, from, to time.Time) []domain.StateChangedPayload {
	var result []domain.StateChangedPayload
	for _, change := range conversation.StateChanges() {
		if within(change.CreatedOn, from, to) {
			result = append(result, *change.StateChanged)
		}
	}
	return result
}

func lastChangeWithin(conversation *domain.Conversation, from, to time.Time) *domain.StateChangedPayload {
	changes := conversation.StateChanges()
	for i := len(changes) - 1; i >= 0; i-- {
		if within(changes[i].CreatedOn, from, to) {
			return changes[i].StateChanged
		}
	}
	return nil
}

// within reports whether at falls in the half-open range [from, to).
func within(at, from, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}
