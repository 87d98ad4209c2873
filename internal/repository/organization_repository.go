package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/conversation-service/internal/domain"
)

// OrganizationRepository resolves organizations and their SLA defaults.
type OrganizationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Organization, error)
}

type organizationRepository struct {
	pool *pgxpool.Pool
}

// NewOrganizationRepository instantiates repository.
func NewOrganizationRepository(pool *pgxpool.Pool) OrganizationRepository {
	return &organizationRepository{pool: pool}
}

func (r *organizationRepository) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	const query = `
        SELECT id, name, default_warning_seconds, default_deadline_seconds
        FROM organizations WHERE id=$1`
	var (
		org             domain.Organization
		warningSeconds  *int64
		deadlineSeconds *int64
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&warningSeconds,
		&deadlineSeconds,
	); err != nil {
		return nil, err
	}
	org.DefaultThreshold = thresholdFromSeconds(warningSeconds, deadlineSeconds)
	return &org, nil
}
