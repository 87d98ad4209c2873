package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// MetricRepository stores immutable duration observations.
type MetricRepository interface {
	Save(ctx context.Context, observations []domain.MetricObservation) error
	ListByConversation(ctx context.Context, conversationID string) ([]domain.MetricObservation, error)
}

type metricRepository struct {
	pool *pgxpool.Pool
}

// NewMetricRepository instantiates repository.
func NewMetricRepository(pool *pgxpool.Pool) MetricRepository {
	return &metricRepository{pool: pool}
}

func (r *metricRepository) Save(ctx context.Context, observations []domain.MetricObservation) error {
	const query = `
        INSERT INTO metric_observations (id, conversation_id, kind, seconds, observed_on)
        VALUES ($1,$2,$3,$4,$5)`
	for _, observation := range observations {
		if _, err := r.pool.Exec(ctx, query,
			observation.ID,
			observation.ConversationID,
			observation.Kind,
			observation.Seconds,
			observation.ObservedOn,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *metricRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.MetricObservation, error) {
	const query = `
        SELECT id, conversation_id, kind, seconds, observed_on
        FROM metric_observations WHERE conversation_id=$1 ORDER BY observed_on`
	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []domain.MetricObservation
	for rows.Next() {
		var observation domain.MetricObservation
		if err := rows.Scan(
			&observation.ID,
			&observation.ConversationID,
			&observation.Kind,
			&observation.Seconds,
			&observation.ObservedOn,
		); err != nil {
			return nil, err
		}
		result = append(result, observation)
	}
	return result, rows.Err()
}
