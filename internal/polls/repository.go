package polls

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherspace/backend/internal/models"
	"github.com/gatherspace/backend/pkg/apperr"
)

// Repository persists poll aggregates in PostgreSQL. Options and voter
// sets live embedded in the poll row as jsonb; the row carries a version
// column for optimistic concurrency.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pollColumns = `id, event_id, question, description, options, created_by, creator_name,
	is_active, status, total_votes, allow_multiple_votes, voters_list, expires_at, poll_type, version, created_at`

// Create inserts a new poll aggregate.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	const query = `INSERT INTO polls (id, event_id, question, description, options, created_by, creator_name,
		is_active, status, total_votes, allow_multiple_votes, voters_list, expires_at, poll_type, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1, $15)`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.EventID, p.Question, p.Description, p.Options, p.CreatedBy, p.CreatorName,
		p.IsActive, p.Status, p.TotalVotes, p.AllowMultipleVotes, p.VotersList, p.ExpiresAt, p.PollType, p.CreatedAt)
	if err != nil {
		return apperr.Infrastructure("failed to create poll", err)
	}
	p.Version = 1
	return nil
}

// GetByID returns a poll aggregate by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const query = `SELECT ` + pollColumns + ` FROM polls WHERE id = $1`
	var p models.Poll
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.EventID, &p.Question, &p.Description, &p.Options, &p.CreatedBy, &p.CreatorName,
		&p.IsActive, &p.Status, &p.TotalVotes, &p.AllowMultipleVotes, &p.VotersList, &p.ExpiresAt, &p.PollType, &p.Version, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("poll not found")
		}
		return nil, apperr.Infrastructure("failed to load poll", err)
	}
	return &p, nil
}

// Update writes the aggregate back, conditional on the version it was
// read at. Returns ErrVersionConflict when a concurrent writer got
// there first.
func (r *Repository) Update(ctx context.Context, p *models.Poll) error {
	const query = `UPDATE polls SET options = $2, is_active = $3, status = $4, total_votes = $5,
		voters_list = $6, expires_at = $7, version = version + 1
		WHERE id = $1 AND version = $8`
	tag, err := r.pool.Exec(ctx, query,
		p.ID, p.Options, p.IsActive, p.Status, p.TotalVotes, p.VotersList, p.ExpiresAt, p.Version)
	if err != nil {
		return apperr.Infrastructure("failed to update poll", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

// ListByEvent returns all polls for an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Poll, error) {
	const query = `SELECT ` + pollColumns + ` FROM polls WHERE event_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, apperr.Infrastructure("failed to list polls", err)
	}
	defer rows.Close()

	var out []*models.Poll
	for rows.Next() {
		var p models.Poll
		if err := rows.Scan(
			&p.ID, &p.EventID, &p.Question, &p.Description, &p.Options, &p.CreatedBy, &p.CreatorName,
			&p.IsActive, &p.Status, &p.TotalVotes, &p.AllowMultipleVotes, &p.VotersList, &p.ExpiresAt, &p.PollType, &p.Version, &p.CreatedAt); err != nil {
			return nil, apperr.Infrastructure("failed to scan poll", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Stats returns aggregate counters across all polls.
func (r *Repository) Stats(ctx context.Context) (*models.PollStats, error) {
	const query = `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE status = 'active'),
		COUNT(*) FILTER (WHERE status = 'closed'),
		COUNT(*) FILTER (WHERE status = 'expired'),
		COALESCE(SUM(total_votes), 0),
		COALESCE(AVG(total_votes), 0)
		FROM polls`
	var s models.PollStats
	err := r.pool.QueryRow(ctx, query).Scan(
		&s.TotalPolls, &s.ActivePolls, &s.ClosedPolls, &s.ExpiredPolls, &s.TotalVotes, &s.AvgVotesPerPoll)
	if err != nil {
		return nil, apperr.Infrastructure("failed to load poll stats", err)
	}
	return &s, nil
}
