package service

import (
	"fmt"
	"time"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// CoverageDuration computes the elapsed time between from and to restricted
// to the schedule's working window in the member's local time zone. Each
// calendar day's window is converted from local time before comparing, so
// DST shifts are handled by the location database. An empty day list means
// every day of the week.
func CoverageDuration(from, to time.Time, schedule domain.WorkingSchedule) (time.Duration, error) {
	if !to.After(from) {
		return 0, nil
	}
	if schedule.Hours.EndMinute <= schedule.Hours.StartMinute {
		return 0, fmt.Errorf("working hours end (%d) not after start (%d)", schedule.Hours.EndMinute, schedule.Hours.StartMinute)
	}
	loc, err := time.LoadLocation(schedule.TimeZone)
	if err != nil {
		return 0, fmt.Errorf("load time zone %q: %w", schedule.TimeZone, err)
	}

	var total time.Duration
	localFrom := from.In(loc)
	day := time.Date(localFrom.Year(), localFrom.Month(), localFrom.Day(), 0, 0, 0, 0, loc)
	for day.Before(to) {
		if len(schedule.Days) == 0 || schedule.CoversDay(day.Weekday()) {
			windowStart := time.Date(day.Year(), day.Month(), day.Day(), 0, schedule.Hours.StartMinute, 0, 0, loc)
			windowEnd := time.Date(day.Year(), day.Month(), day.Day(), 0, schedule.Hours.EndMinute, 0, 0, loc)
			overlapStart := laterTime(windowStart, from)
			overlapEnd := earlierTime(windowEnd, to)
			if overlapEnd.After(overlapStart) {
				total += overlapEnd.Sub(overlapStart)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total, nil
}

func laterTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
