package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists marketplace tokens.
type Repository interface {
	Get(ctx context.Context, tenantID uuid.UUID) (Token, error)
	FindTenantByMLUser(ctx context.Context, mlUserID int64) (uuid.UUID, error)
	ListExpiring(ctx context.Context, before time.Time) ([]Token, error)
	ListAll(ctx context.Context) ([]Token, error)
	Replace(ctx context.Context, token Token) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const tokenColumns = `tenant_id, access_token, COALESCE(refresh_token, ''), expires_at, COALESCE(ml_user_id, 0), COALESCE(nickname, ''), updated_at`

func scanToken(row pgx.Row) (Token, error) {
	var t Token
	err := row.Scan(&t.TenantID, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt, &t.MLUserID, &t.Nickname, &t.UpdatedAt)
	return t, err
}

// Get returns the token of a tenant.
func (r *PGRepository) Get(ctx context.Context, tenantID uuid.UUID) (Token, error) {
	t, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM ml_auth_tokens WHERE tenant_id = $1`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrTokenMissing
	}
	return t, err
}

// FindTenantByMLUser resolves the tenant connected to a marketplace account.
func (r *PGRepository) FindTenantByMLUser(ctx context.Context, mlUserID int64) (uuid.UUID, error) {
	var tenantID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT tenant_id FROM ml_auth_tokens WHERE ml_user_id = $1 ORDER BY updated_at DESC LIMIT 1`, mlUserID).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("ml user %d: %w", mlUserID, ErrTokenMissing)
	}
	return tenantID, err
}

// ListExpiring returns renewable tokens that expire before the given time.
func (r *PGRepository) ListExpiring(ctx context.Context, before time.Time) ([]Token, error) {
	return r.list(ctx, `SELECT `+tokenColumns+` FROM ml_auth_tokens
		WHERE expires_at < $1 AND refresh_token IS NOT NULL AND refresh_token <> ''
		ORDER BY expires_at ASC`, before)
}

// ListAll returns every stored token ordered by tenant.
func (r *PGRepository) ListAll(ctx context.Context) ([]Token, error) {
	return r.list(ctx, `SELECT `+tokenColumns+` FROM ml_auth_tokens ORDER BY tenant_id`)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Token, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Replace overwrites the tenant's credentials in place.
func (r *PGRepository) Replace(ctx context.Context, token Token) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO ml_auth_tokens
		(tenant_id, access_token, refresh_token, expires_at, ml_user_id, nickname, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, 0), NULLIF($6, ''), NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			ml_user_id = COALESCE(EXCLUDED.ml_user_id, ml_auth_tokens.ml_user_id),
			nickname = COALESCE(EXCLUDED.nickname, ml_auth_tokens.nickname),
			updated_at = NOW()`,
		token.TenantID, token.AccessToken, token.RefreshToken, token.ExpiresAt.UTC(), token.MLUserID, token.Nickname)
	return err
}

var _ Repository = (*PGRepository)(nil)
