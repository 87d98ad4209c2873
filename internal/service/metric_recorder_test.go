package service

import (
	"context"
	"testing"
	"time"

	"github.com/spec-kit/conversation-service/internal/domain"
)

func scheduledMember(id string) *domain.Member {
	schedule := nineToFive("UTC")
	return &domain.Member{ID: id, OrgID: "org1", Schedule: &schedule}
}

func TestRecordResponseEmitsCoverageVariants(t *testing.T) {
	store := newMemMetricRepo()
	recorder := NewMetricRecorder(store, nil, nil)

	// Entered NeedsResponse Friday 16:00, responded Monday 10:00.
	since := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	conversation := &domain.Conversation{
		ID:                "c1",
		CreatedOn:         since.Add(-time.Hour),
		LastStateChangeOn: since,
	}

	observations, first := recorder.ResponseObservations(conversation, domain.StateNeedsResponse, scheduledMember("agent"), now)
	if first {
		t.Error("response from NeedsResponse must not count as first response")
	}
	if err := recorder.Persist(context.Background(), observations); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	plain := store.byKind(domain.MetricTimeToResponse)
	if len(plain) != 1 || plain[0].Seconds != now.Sub(since).Seconds() {
		t.Fatalf("plain response metric = %+v", plain)
	}
	// Working window is 09:00-17:00 every day: 1h Friday, 8h Saturday,
	// 8h Sunday, 1h Monday.
	coverage := store.byKind(domain.MetricTimeToResponseDuringCoverage)
	if len(coverage) != 1 || coverage[0].Seconds != (18*time.Hour).Seconds() {
		t.Fatalf("coverage response metric = %+v", coverage)
	}
}

func TestRecordResponseWithoutScheduleSkipsCoverage(t *testing.T) {
	store := newMemMetricRepo()
	recorder := NewMetricRecorder(store, nil, nil)

	conversation := &domain.Conversation{
		ID:                "c1",
		CreatedOn:         baseTime,
		LastStateChangeOn: baseTime,
	}
	observations, first := recorder.ResponseObservations(conversation, domain.StateNew, &domain.Member{ID: "agent", OrgID: "org1"}, baseTime.Add(time.Hour))
	if !first {
		t.Error("response from New must count as first response")
	}
	if err := recorder.Persist(context.Background(), observations); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if obs := store.byKind(domain.MetricTimeToResponseDuringCoverage); len(obs) != 0 {
		t.Errorf("coverage metric recorded without a schedule: %+v", obs)
	}
	if obs := store.byKind(domain.MetricTimeToFirstResponse); len(obs) != 1 {
		t.Errorf("first-response metric observations = %d, want 1", len(obs))
	}
}

func TestRecordCloseMeasuresFromLastReopen(t *testing.T) {
	store := newMemMetricRepo()
	recorder := NewMetricRecorder(store, nil, nil)

	created := baseTime
	reopenedAt := baseTime.Add(48 * time.Hour)
	now := reopenedAt.Add(2 * time.Hour)
	conversation := &domain.Conversation{
		ID:        "c1",
		CreatedOn: created,
		Events: []domain.ConversationEvent{
			{
				Type:         domain.EventStateChanged,
				CreatedOn:    created.Add(time.Hour),
				StateChanged: &domain.StateChangedPayload{OldState: domain.StateNew, NewState: domain.StateClosed},
			},
			{
				Type:         domain.EventStateChanged,
				CreatedOn:    reopenedAt,
				StateChanged: &domain.StateChangedPayload{OldState: domain.StateClosed, NewState: domain.StateWaiting},
			},
		},
	}

	if err := recorder.Persist(context.Background(), recorder.CloseObservations(conversation, nil, now)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	obs := store.byKind(domain.MetricTimeToClose)
	if len(obs) != 1 || obs[0].Seconds != (2*time.Hour).Seconds() {
		t.Fatalf("time-to-close = %+v, want 7200s measured from reopen", obs)
	}
}
