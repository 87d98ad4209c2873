package service

import (
	"testing"
	"time"

	"github.com/spec-kit/conversation-service/internal/domain"
)

func nineToFive(tz string, days ...time.Weekday) domain.WorkingSchedule {
	return domain.WorkingSchedule{
		TimeZone: tz,
		Hours:    domain.WorkingHours{StartMinute: 9 * 60, EndMinute: 17 * 60},
		Days:     days,
	}
}

func TestCoverageDurationWithinSingleWindow(t *testing.T) {
	schedule := nineToFive("UTC")
	from := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 4, 12, 30, 0, 0, time.UTC)

	got, err := CoverageDuration(from, to, schedule)
	if err != nil {
		t.Fatalf("CoverageDuration: %v", err)
	}
	if want := 2*time.Hour + 30*time.Minute; got != want {
		t.Errorf("coverage = %v, want plain duration %v", got, want)
	}
}

func TestCoverageDurationClipsOutsideWindow(t *testing.T) {
	schedule := nineToFive("UTC")
	// 06:00 to 20:00 covers one full 8h window.
	from := time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)

	got, err := CoverageDuration(from, to, schedule)
	if err != nil {
		t.Fatalf("CoverageDuration: %v", err)
	}
	if want := 8 * time.Hour; got != want {
		t.Errorf("coverage = %v, want %v", got, want)
	}
}

func TestCoverageDurationSpansMultipleDays(t *testing.T) {
	schedule := nineToFive("UTC")
	// Monday 16:00 to Wednesday 10:00: 1h Monday + 8h Tuesday + 1h Wednesday.
	from := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	got, err := CoverageDuration(from, to, schedule)
	if err != nil {
		t.Fatalf("CoverageDuration: %v", err)
	}
	if want := 10 * time.Hour; got != want {
		t.Errorf("coverage = %v, want %v", got, want)
	}
}

func TestCoverageDurationSkipsOffDays(t *testing.T) {
	schedule := nineToFive("UTC", time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
	// Friday 16:00 to Monday 10:00: 1h Friday + 1h Monday, weekend skipped.
	from := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	got, err := CoverageDuration(from, to, schedule)
	if err != nil {
		t.Fatalf("CoverageDuration: %v", err)
	}
	if want := 2 * time.Hour; got != want {
		t.Errorf("coverage = %v, want %v", got, want)
	}
}

func TestCoverageDurationAcrossDstTransition(t *testing.T) {
	schedule := nineToFive("America/New_York")
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// US spring-forward was Sunday 2024-03-10. Saturday 09:00 local to
	// Monday 09:00 local spans the shift; each day's window is still the
	// local 09:00-17:00.
	from := time.Date(2024, 3, 9, 9, 0, 0, 0, loc)
	to := time.Date(2024, 3, 11, 9, 0, 0, 0, loc)

	got, err := CoverageDuration(from.UTC(), to.UTC(), schedule)
	if err != nil {
		t.Fatalf("CoverageDuration: %v", err)
	}
	if want := 16 * time.Hour; got != want {
		t.Errorf("coverage across DST = %v, want %v", got, want)
	}
}

func TestCoverageDurationInvalidConfiguration(t *testing.T) {
	from := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	inverted := domain.WorkingSchedule{
		TimeZone: "UTC",
		Hours:    domain.WorkingHours{StartMinute: 17 * 60, EndMinute: 9 * 60},
	}
	if _, err := CoverageDuration(from, to, inverted); err == nil {
		t.Error("inverted working hours must error")
	}

	badZone := nineToFive("Not/AZone")
	if _, err := CoverageDuration(from, to, badZone); err == nil {
		t.Error("unknown time zone must error")
	}
}

func TestCoverageDurationEmptyRange(t *testing.T) {
	schedule := nineToFive("UTC")
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	got, err := CoverageDuration(at, at, schedule)
	if err != nil {
		t.Fatalf("CoverageDuration: %v", err)
	}
	if got != 0 {
		t.Errorf("coverage of empty range = %v, want 0", got)
	}
}
