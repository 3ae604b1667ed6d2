package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherspace/backend/internal/models"
	"github.com/gatherspace/backend/pkg/apperr"
)

// Repository reads user profiles from PostgreSQL. Display names are
// resolved once at write time and denormalized onto messages and polls,
// so this stays a read-only lookup.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Resolve returns the user with the given id.
func (r *Repository) Resolve(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const query = `SELECT id, display_name, COALESCE(avatar_url, ''), COALESCE(status, '') FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Infrastructure("failed to load user", err)
	}
	return &u, nil
}
