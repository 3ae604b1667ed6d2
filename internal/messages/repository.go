package messages

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherspace/backend/internal/models"
	"github.com/gatherspace/backend/pkg/apperr"
)

// Repository persists chat messages in PostgreSQL. Read receipts live in
// a jsonb column so marking read is a single conditional statement.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a messages repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const messageColumns = `id, sender, sender_name, event_id, content, message_type, is_edited, edited_at, read_by, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.Sender, &m.SenderName, &m.EventID, &m.Content, &m.MessageType,
		&m.IsEdited, &m.EditedAt, &m.ReadBy, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a new message.
func (r *Repository) Create(ctx context.Context, m *models.Message) error {
	const query = `INSERT INTO messages (id, sender, sender_name, event_id, content, message_type, is_edited, edited_at, read_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		m.ID, m.Sender, m.SenderName, m.EventID, m.Content, m.MessageType, m.IsEdited, m.EditedAt, m.ReadBy, m.CreatedAt)
	if err != nil {
		return apperr.Infrastructure("failed to create message", err)
	}
	return nil
}

// GetByID returns a message by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Infrastructure("failed to load message", err)
	}
	return m, nil
}

// List returns messages newest first with limit/skip pagination.
func (r *Repository) List(ctx context.Context, limit, skip int) ([]*models.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	return r.queryMessages(ctx, query, limit, skip)
}

// Search returns messages whose content or sender name matches the
// query, case-insensitive, newest first.
func (r *Repository) Search(ctx context.Context, q string, limit int) ([]*models.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages
		WHERE content ILIKE '%' || $1 || '%' OR sender_name ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC LIMIT $2`
	return r.queryMessages(ctx, query, q, limit)
}

// ByUser returns a user's messages, newest first.
func (r *Repository) ByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE sender = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryMessages(ctx, query, userID, limit)
}

// OlderThan returns all messages created before cutoff, oldest first.
// Used by the archive worker to snapshot before deletion.
func (r *Repository) OlderThan(ctx context.Context, cutoff time.Time) ([]*models.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE created_at < $1 ORDER BY created_at ASC`
	return r.queryMessages(ctx, query, cutoff)
}

// UpdateContent rewrites a message's content and stamps the edit.
func (r *Repository) UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) (*models.Message, error) {
	const query = `UPDATE messages SET content = $2, is_edited = TRUE, edited_at = $3 WHERE id = $1
		RETURNING ` + messageColumns
	m, err := scanMessage(r.pool.QueryRow(ctx, query, id, content, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Infrastructure("failed to update message", err)
	}
	return m, nil
}

// MarkRead appends a read receipt for userID unless one already exists.
// The append is a single conditional update, so concurrent markers for
// different users interleave safely and repeats are no-ops.
func (r *Repository) MarkRead(ctx context.Context, id, userID uuid.UUID, at time.Time) (*models.Message, error) {
	const query = `UPDATE messages SET read_by = read_by || $2::jsonb
		WHERE id = $1 AND NOT read_by @> $3::jsonb`
	receipt := []models.ReadReceipt{{UserID: userID, ReadAt: at}}
	probe := []map[string]uuid.UUID{{"userId": userID}}
	_, err := r.pool.Exec(ctx, query, id, receipt, probe)
	if err != nil {
		return nil, apperr.Infrastructure("failed to mark message read", err)
	}
	// Zero rows means the receipt already existed; either way return the
	// current state.
	return r.GetByID(ctx, id)
}

// Delete removes a message by id.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM messages WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return apperr.Infrastructure("failed to delete message", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

// DeleteOlderThan removes all messages created before cutoff and returns
// how many were removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM messages WHERE created_at < $1`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, apperr.Infrastructure("failed to delete old messages", err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns aggregate message counters.
func (r *Repository) Stats(ctx context.Context) (*models.MessageStats, error) {
	const query = `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE created_at >= date_trunc('day', now()))
		FROM messages`
	var s models.MessageStats
	if err := r.pool.QueryRow(ctx, query).Scan(&s.TotalMessages, &s.MessagesToday); err != nil {
		return nil, apperr.Infrastructure("failed to load message stats", err)
	}
	return &s, nil
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Infrastructure("failed to query messages", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Infrastructure("failed to scan message", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
