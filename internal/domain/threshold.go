package domain

import "time"

// Threshold is a response-time policy: warn after Warning, breach after
// Deadline. Either side may be unset.
type Threshold struct {
	Warning  *time.Duration
	Deadline *time.Duration
}

// IsZero reports whether neither side of the threshold is set.
func (t Threshold) IsZero() bool {
	return t.Warning == nil && t.Deadline == nil
}

// WorkingHours bounds a member's working window as minutes from local
// midnight, half-open [Start, End).
type WorkingHours struct {
	StartMinute int
	EndMinute   int
}

// WorkingSchedule is a member's coverage configuration.
type WorkingSchedule struct {
	TimeZone string
	Hours    WorkingHours
	Days     []time.Weekday
}

// CoversDay reports whether the schedule includes the given weekday.
func (s WorkingSchedule) CoversDay(day time.Weekday) bool {
	for _, d := range s.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Room is a chat channel whose conversations may be tracked.
type Room struct {
	ID        string
	OrgID     string
	Name      string
	Managed   bool
	Threshold *Threshold
}

// Organization holds org-wide defaults.
type Organization struct {
	ID               string
	Name             string
	DefaultThreshold *Threshold
}

// Member is a chat-platform account known to the system.
type Member struct {
	ID       string
	OrgID    string
	IsGuest  bool
	Schedule *WorkingSchedule
}

// RoomRole selects which conversations a responder should see.
type RoomRole string

const (
	RoomRoleFirstResponder      RoomRole = "FIRST_RESPONDER"
	RoomRoleEscalationResponder RoomRole = "ESCALATION_RESPONDER"
)

// RoomRoleAssignment binds a member to a role in a room.
type RoomRoleAssignment struct {
	MemberID string
	RoomID   string
	Role     RoomRole
}
