package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindProfile(ctx context.Context, userID uuid.UUID) (Profile, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindProfile fetches the tenant profile of a user.
func (r *PGRepository) FindProfile(ctx context.Context, userID uuid.UUID) (Profile, error) {
	p := Profile{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT tenant_id FROM profiles WHERE user_id = $1`, userID).Scan(&p.TenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNoProfile
	}
	return p, err
}

var _ Repository = (*PGRepository)(nil)
