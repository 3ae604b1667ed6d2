package polls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherspace/backend/internal/models"
	"github.com/gatherspace/backend/internal/realtime"
	"github.com/gatherspace/backend/pkg/apperr"
)

// ErrVersionConflict is returned by Store.Update when the poll was
// modified since it was read. The engine retries the whole
// read-modify-write on conflict.
var ErrVersionConflict = errors.New("poll version conflict")

// maxUpdateAttempts bounds the optimistic-concurrency retry loop.
const maxUpdateAttempts = 3

// Store persists poll aggregates. Update must write the aggregate whole,
// conditional on the version it was read at.
type Store interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	Update(ctx context.Context, p *models.Poll) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Poll, error)
	Stats(ctx context.Context) (*models.PollStats, error)
}

// Broadcaster fans out vote updates to the poll's room.
type Broadcaster interface {
	Broadcast(roomID uuid.UUID, event string, payload interface{})
}

// Directory resolves the creator's display name at creation time.
type Directory interface {
	Resolve(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Engine enforces poll voting invariants. Every mutation is a single
// read-modify-write against the stored poll version; conflicting writers
// retry, so concurrent votes on the same poll never lose updates.
type Engine struct {
	store     Store
	directory Directory
	hub       Broadcaster
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates a poll engine. hub and directory may be nil.
func NewEngine(store Store, directory Directory, hub Broadcaster, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, directory: directory, hub: hub, logger: logger, now: time.Now}
}

// Create validates and persists a new active poll, denormalizing the
// creator's display name.
func (e *Engine) Create(ctx context.Context, eventID uuid.UUID, question string, options []string, createdBy uuid.UUID, cfg models.PollConfig) (*models.Poll, error) {
	creatorName := ""
	if e.directory != nil {
		u, err := e.directory.Resolve(ctx, createdBy)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return nil, apperr.Validation("poll creator not found")
			}
			return nil, err
		}
		creatorName = u.DisplayName
	}

	p, err := models.NewPoll(eventID, question, options, createdBy, creatorName, cfg)
	if err != nil {
		return nil, err
	}
	if err := e.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a poll by id. Read paths never flip expiry state.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	return e.store.GetByID(ctx, id)
}

// ListByEvent returns all polls for an event, newest first.
func (e *Engine) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Poll, error) {
	return e.store.ListByEvent(ctx, eventID)
}

// CastVote applies a vote. If the poll's deadline has passed, the
// expired transition is persisted first and the vote is then rejected
// with ErrPollExpired: lazy expiration means the attempted vote is what
// flips the state.
func (e *Engine) CastVote(ctx context.Context, pollID, userID uuid.UUID, optionID string) (*models.Poll, error) {
	var expired bool
	p, err := e.mutate(ctx, pollID, func(p *models.Poll) error {
		expired = false
		if !p.IsActive || p.Status != models.PollStatusActive {
			return models.ErrPollInactive
		}
		if p.Expired(e.now()) {
			expired = true
			p.MarkExpired()
			return nil
		}
		return p.CastVote(userID, optionID, e.now())
	})
	if err != nil {
		return nil, err
	}
	e.broadcastResults(p)
	if expired {
		return nil, models.ErrPollExpired
	}
	return p, nil
}

// RemoveVote withdraws a vote and broadcasts the new tallies.
func (e *Engine) RemoveVote(ctx context.Context, pollID, userID uuid.UUID, optionID string) (*models.Poll, error) {
	p, err := e.mutate(ctx, pollID, func(p *models.Poll) error {
		return p.RemoveVote(userID, optionID)
	})
	if err != nil {
		return nil, err
	}
	e.broadcastResults(p)
	return p, nil
}

// ClosePoll transitions a poll to closed. Idempotent.
func (e *Engine) ClosePoll(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	p, err := e.mutate(ctx, pollID, func(p *models.Poll) error {
		p.Close()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.broadcastResults(p)
	return p, nil
}

// ReopenPoll transitions a poll back to active. Idempotent; the
// expiration deadline is left as-is.
func (e *Engine) ReopenPoll(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	p, err := e.mutate(ctx, pollID, func(p *models.Poll) error {
		p.Reopen()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.broadcastResults(p)
	return p, nil
}

// Results returns the derived per-option tallies for a poll.
func (e *Engine) Results(ctx context.Context, pollID uuid.UUID) (*models.PollResults, error) {
	p, err := e.store.GetByID(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return p.Results(), nil
}

// Stats returns aggregate counters across all polls.
func (e *Engine) Stats(ctx context.Context) (*models.PollStats, error) {
	return e.store.Stats(ctx)
}

// mutate runs fn against a freshly loaded poll and writes the aggregate
// back conditional on the version it was read at, retrying on conflict.
// A failed write leaves no partial state: the aggregate is only ever
// persisted whole.
func (e *Engine) mutate(ctx context.Context, pollID uuid.UUID, fn func(*models.Poll) error) (*models.Poll, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		p, err := e.store.GetByID(ctx, pollID)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		err = e.store.Update(ctx, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		e.logger.Debug("poll version conflict, retrying", zap.String("poll_id", pollID.String()), zap.Int("attempt", attempt+1))
	}
	return nil, apperr.Infrastructure("poll update conflict, retries exhausted", ErrVersionConflict)
}

func (e *Engine) broadcastResults(p *models.Poll) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(p.EventID, realtime.EventVoteUpdate, p.Results())
}
