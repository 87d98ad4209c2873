package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/conversation-service/internal/domain"
	"github.com/spec-kit/conversation-service/internal/observability"
	"github.com/spec-kit/conversation-service/internal/repository"
)

// MetricRecorder turns qualifying state transitions into immutable duration
// observations. Coverage-restricted variants are emitted when the acting
// member has usable working-hours configuration; a malformed schedule falls
// back to the plain value only.
type MetricRecorder struct {
	store   repository.MetricRepository
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewMetricRecorder constructs the recorder.
func NewMetricRecorder(store repository.MetricRepository, metrics *observability.Metrics, logger *zap.Logger) *MetricRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricRecorder{store: store, metrics: metrics, logger: logger}
}

// ResponseObservations builds TimeToResponse observations for a transition
// into Waiting, plus TimeToFirstResponse when this is the conversation's
// first response. The elapsed value excludes time spent snoozed. Returns the
// observations and whether they include a first response; nothing is
// persisted until Persist, so a transition that loses its commit race
// leaves no observations behind.
func (r *MetricRecorder) ResponseObservations(conversation *domain.Conversation, oldState domain.State, responder *domain.Member, now time.Time) ([]domain.MetricObservation, bool) {
	since := conversation.LastStateChangeOn
	if since.IsZero() {
		since = conversation.CreatedOn
	}
	changes := conversation.StateChanges()
	elapsed := now.Sub(since) - snoozedDuration(changes, since, now)
	if elapsed < 0 {
		elapsed = 0
	}

	observations := []domain.MetricObservation{
		r.observation(conversation.ID, domain.MetricTimeToResponse, elapsed, now),
	}

	first := conversation.FirstResponseOn == nil && firstResponseQualifies(changes, oldState)
	if first {
		observations = append(observations,
			r.observation(conversation.ID, domain.MetricTimeToFirstResponse, elapsed, now))
	}

	if coverage, ok := r.coverageElapsed(since, now, changes, responder); ok {
		observations = append(observations,
			r.observation(conversation.ID, domain.MetricTimeToResponseDuringCoverage, coverage, now))
		if first {
			observations = append(observations,
				r.observation(conversation.ID, domain.MetricTimeToFirstResponseDuringCoverage, coverage, now))
		}
	}
	return observations, first
}

// CloseObservations builds TimeToClose, measured from the conversation's
// creation or its most recent reopen, whichever is later.
func (r *MetricRecorder) CloseObservations(conversation *domain.Conversation, actor *domain.Member, now time.Time) []domain.MetricObservation {
	changes := conversation.StateChanges()
	since := conversation.CreatedOn
	if reopenedAt := lastExitFromClosed(changes); reopenedAt != nil && reopenedAt.After(since) {
		since = *reopenedAt
	}
	elapsed := now.Sub(since)
	if elapsed < 0 {
		elapsed = 0
	}

	observations := []domain.MetricObservation{
		r.observation(conversation.ID, domain.MetricTimeToClose, elapsed, now),
	}
	if coverage, ok := r.coverageElapsed(since, now, changes, actor); ok {
		observations = append(observations,
			r.observation(conversation.ID, domain.MetricTimeToCloseDuringCoverage, coverage, now))
	}
	return observations
}

// Persist stores observations built by the methods above. Called after the
// owning transition has committed.
func (r *MetricRecorder) Persist(ctx context.Context, observations []domain.MetricObservation) error {
	if len(observations) == 0 {
		return nil
	}
	if err := r.store.Save(ctx, observations); err != nil {
		return err
	}
	r.export(observations)
	return nil
}

func (r *MetricRecorder) observation(conversationID string, kind domain.MetricKind, elapsed time.Duration, now time.Time) domain.MetricObservation {
	return domain.MetricObservation{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           kind,
		Seconds:        elapsed.Seconds(),
		ObservedOn:     now,
	}
}

func (r *MetricRecorder) coverageElapsed(since, now time.Time, changes []domain.ConversationEvent, member *domain.Member) (time.Duration, bool) {
	if member == nil || member.Schedule == nil {
		return 0, false
	}
	coverage, err := CoverageDuration(since, now, *member.Schedule)
	if err != nil {
		r.logger.Warn("coverage duration unavailable, recording plain metric only",
			zap.String("member_id", member.ID), zap.Error(err))
		return 0, false
	}
	for _, interval := range snoozeIntervals(changes, since, now) {
		snoozed, err := CoverageDuration(interval.start, interval.end, *member.Schedule)
		if err != nil {
			return 0, false
		}
		coverage -= snoozed
	}
	if coverage < 0 {
		coverage = 0
	}
	return coverage, true
}

func (r *MetricRecorder) export(observations []domain.MetricObservation) {
	if r.metrics == nil {
		return
	}
	for _, observation := range observations {
		r.metrics.ObserveMetric(string(observation.Kind), observation.Seconds)
	}
}

// firstResponseQualifies reports whether a transition into Waiting from
// oldState counts as the first response: only from New, or from Overdue
// when the conversation was in New before it went overdue.
func firstResponseQualifies(changes []domain.ConversationEvent, oldState domain.State) bool {
	switch oldState {
	case domain.StateNew:
		return true
	case domain.StateOverdue:
		for i := len(changes) - 1; i >= 0; i-- {
			if changes[i].StateChanged.NewState == domain.StateOverdue {
				return changes[i].StateChanged.OldState == domain.StateNew
			}
		}
	}
	return false
}

// lastExitFromClosed returns the instant of the most recent transition out
// of Closed, nil when the conversation was never reopened.
func lastExitFromClosed(changes []domain.ConversationEvent) *time.Time {
	for i := len(changes) - 1; i >= 0; i-- {
		payload := changes[i].StateChanged
		if payload.OldState == domain.StateClosed && payload.NewState != domain.StateClosed {
			at := changes[i].CreatedOn
			return &at
		}
	}
	return nil
}

type timeInterval struct {
	start time.Time
	end   time.Time
}

// snoozeIntervals returns the snoozed spans overlapping [from, to], clamped
// to that range. A snooze that is still open is clamped at to.
func snoozeIntervals(changes []domain.ConversationEvent, from, to time.Time) []timeInterval {
	var intervals []timeInterval
	var snoozedAt *time.Time
	for _, change := range changes {
		payload := change.StateChanged
		if payload.NewState == domain.StateSnoozed {
			at := change.CreatedOn
			snoozedAt = &at
		} else if payload.OldState == domain.StateSnoozed && snoozedAt != nil {
			intervals = append(intervals, clampInterval(*snoozedAt, change.CreatedOn, from, to))
			snoozedAt = nil
		}
	}
	if snoozedAt != nil {
		intervals = append(intervals, clampInterval(*snoozedAt, to, from, to))
	}
	filtered := intervals[:0]
	for _, interval := range intervals {
		if interval.end.After(interval.start) {
			filtered = append(filtered, interval)
		}
	}
	return filtered
}

func clampInterval(start, end, from, to time.Time) timeInterval {
	return timeInterval{start: laterTime(start, from), end: earlierTime(end, to)}
}

func snoozedDuration(changes []domain.ConversationEvent, from, to time.Time) time.Duration {
	var total time.Duration
	for _, interval := range snoozeIntervals(changes, from, to) {
		total += interval.end.Sub(interval.start)
	}
	return total
}
