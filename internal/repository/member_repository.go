package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// MemberRepository resolves chat-platform members and their coverage
// configuration.
type MemberRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Member, error)
}

type memberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository instantiates repository.
func NewMemberRepository(pool *pgxpool.Pool) MemberRepository {
	return &memberRepository{pool: pool}
}

func (r *memberRepository) GetByID(ctx context.Context, id string) (*domain.Member, error) {
	const query = `
        SELECT id, org_id, is_guest, time_zone, working_start_minute, working_end_minute, working_days
        FROM members WHERE id=$1`
	var (
		member      domain.Member
		timeZone    *string
		startMinute *int
		endMinute   *int
		workingDays *string
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&member.ID,
		&member.OrgID,
		&member.IsGuest,
		&timeZone,
		&startMinute,
		&endMinute,
		&workingDays,
	); err != nil {
		return nil, err
	}
	if timeZone != nil && startMinute != nil && endMinute != nil {
		member.Schedule = &domain.WorkingSchedule{
			TimeZone: *timeZone,
			Hours:    domain.WorkingHours{StartMinute: *startMinute, EndMinute: *endMinute},
			Days:     parseWorkingDays(workingDays),
		}
	}
	return &member, nil
}

// parseWorkingDays decodes a comma separated list of weekday numbers
// (0=Sunday). Unparseable entries are skipped.
func parseWorkingDays(encoded *string) []time.Weekday {
	if encoded == nil || *encoded == "" {
		return nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(*encoded, ",") {
		switch strings.TrimSpace(part) {
		case "0":
			days = append(days, time.Sunday)
		case "1":
			days = append(days, time.Monday)
		case "2":
			days = append(days, time.Tuesday)
		case "3":
			days = append(days, time.Wednesday)
		case "4":
			days = append(days, time.Thursday)
		case "5":
			days = append(days, time.Friday)
		case "6":
			days = append(days, time.Saturday)
		}
	}
	return days
}
