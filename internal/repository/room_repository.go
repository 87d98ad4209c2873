package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// RoomRepository encapsulates room and role-assignment persistence.
type RoomRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	SetThreshold(ctx context.Context, roomID string, threshold *domain.Threshold) error
	ListRoomIDsForRole(ctx context.Context, memberID string, role domain.RoomRole) ([]string, error)
}

type roomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository instantiates repository.
func NewRoomRepository(pool *pgxpool.Pool) RoomRepository {
	return &roomRepository{pool: pool}
}

func (r *roomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	const query = `
        SELECT id, org_id, name, managed, warning_seconds, deadline_seconds
        FROM rooms WHERE id=$1`
	var (
		room            domain.Room
		warningSeconds  *int64
		deadlineSeconds *int64
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&room.ID,
		&room.OrgID,
		&room.Name,
		&room.Managed,
		&warningSeconds,
		&deadlineSeconds,
	); err != nil {
		return nil, err
	}
	room.Threshold = thresholdFromSeconds(warningSeconds, deadlineSeconds)
	return &room, nil
}

func (r *roomRepository) SetThreshold(ctx context.Context, roomID string, threshold *domain.Threshold) error {
	warningSeconds, deadlineSeconds := thresholdToSeconds(threshold)
	const query = `UPDATE rooms SET warning_seconds=$1, deadline_seconds=$2 WHERE id=$3`
	_, err := r.pool.Exec(ctx, query, warningSeconds, deadlineSeconds, roomID)
	return err
}

func (r *roomRepository) ListRoomIDsForRole(ctx context.Context, memberID string, role domain.RoomRole) ([]string, error) {
	const query = `SELECT room_id FROM room_role_assignments WHERE member_id=$1 AND role=$2`
	rows, err := r.pool.Query(ctx, query, memberID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roomIDs []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, err
		}
		roomIDs = append(roomIDs, roomID)
	}
	return roomIDs, rows.Err()
}

func thresholdFromSeconds(warningSeconds, deadlineSeconds *int64) *domain.Threshold {
	if warningSeconds == nil && deadlineSeconds == nil {
		return nil
	}
	threshold := &domain.Threshold{}
	if warningSeconds != nil {
		warning := time.Duration(*warningSeconds) * time.Second
		threshold.Warning = &warning
	}
	if deadlineSeconds != nil {
		deadline := time.Duration(*deadlineSeconds) * time.Second
		threshold.Deadline = &deadline
	}
	return threshold
}

func thresholdToSeconds(threshold *domain.Threshold) (*int64, *int64) {
	if threshold == nil {
		return nil, nil
	}
	var warningSeconds, deadlineSeconds *int64
	if threshold.Warning != nil {
		seconds := int64(threshold.Warning.Seconds())
		warningSeconds = &seconds
	}
	if threshold.Deadline != nil {
		seconds := int64(threshold.Deadline.Seconds())
		deadlineSeconds = &seconds
	}
	return warningSeconds, deadlineSeconds
}
