package polls

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherspace/backend/internal/models"
	"github.com/gatherspace/backend/pkg/apperr"
)

// memStore is an in-memory Store with the same optimistic concurrency
// semantics as the PostgreSQL repository.
type memStore struct {
	mu        sync.Mutex
	polls     map[uuid.UUID]*models.Poll
	conflicts int // inject this many version conflicts before accepting writes
}

func newMemStore() *memStore {
	return &memStore{polls: make(map[uuid.UUID]*models.Poll)}
}

func clonePoll(p *models.Poll) *models.Poll {
	raw, _ := json.Marshal(p)
	var out models.Poll
	_ = json.Unmarshal(raw, &out)
	out.Version = p.Version
	return &out
}

func (s *memStore) Create(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Version = 1
	s.polls[p.ID] = clonePoll(p)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, apperr.NotFound("poll not found")
	}
	return clonePoll(p), nil
}

func (s *memStore) Update(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return ErrVersionConflict
	}
	stored, ok := s.polls[p.ID]
	if !ok {
		return apperr.NotFound("poll not found")
	}
	if stored.Version != p.Version {
		return ErrVersionConflict
	}
	next := clonePoll(p)
	next.Version = p.Version + 1
	s.polls[p.ID] = next
	p.Version = next.Version
	return nil
}

func (s *memStore) ListByEvent(_ context.Context, eventID uuid.UUID) ([]*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Poll
	for _, p := range s.polls {
		if p.EventID == eventID {
			out = append(out, clonePoll(p))
		}
	}
	return out, nil
}

func (s *memStore) Stats(_ context.Context) (*models.PollStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.PollStats{}
	for _, p := range s.polls {
		stats.TotalPolls++
		stats.TotalVotes += p.TotalVotes
	}
	return stats, nil
}

type recordingHub struct {
	mu     sync.Mutex
	events []string
	rooms  []uuid.UUID
}

func (h *recordingHub) Broadcast(roomID uuid.UUID, event string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	h.rooms = append(h.rooms, roomID)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type fakeDirectory struct {
	users map[uuid.UUID]string
}

func (d *fakeDirectory) Resolve(_ context.Context, id uuid.UUID) (*models.User, error) {
	name, ok := d.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &models.User{ID: id, DisplayName: name}, nil
}

func newTestEngine(t *testing.T) (*Engine, *memStore, *recordingHub, uuid.UUID) {
	t.Helper()
	store := newMemStore()
	hub := &recordingHub{}
	creator := uuid.New()
	dir := &fakeDirectory{users: map[uuid.UUID]string{creator: "Alice"}}
	return NewEngine(store, dir, hub, nil), store, hub, creator
}

func createTestPoll(t *testing.T, e *Engine, creator uuid.UUID, cfg models.PollConfig) *models.Poll {
	t.Helper()
	p, err := e.Create(context.Background(), uuid.New(), "Which option do you prefer?", []string{"A", "B"}, creator, cfg)
	require.NoError(t, err)
	return p
}

func TestEngineCreateResolvesCreatorName(t *testing.T) {
	e, _, _, creator := newTestEngine(t)
	p := createTestPoll(t, e, creator, models.PollConfig{})
	assert.Equal(t, "Alice", p.CreatorName)
	assert.Equal(t, 1, p.Version)
}

func TestEngineCreateUnknownCreator(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), uuid.New(), "Which option do you prefer?", []string{"A", "B"}, uuid.New(), models.PollConfig{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestEngineCastVoteBroadcasts(t *testing.T) {
	e, store, hub, creator := newTestEngine(t)
	p := createTestPoll(t, e, creator, models.PollConfig{})

	voted, err := e.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, voted.TotalVotes)

	require.Equal(t, 1, hub.count())
	assert.Equal(t, "vote-update", hub.events[0])
	assert.Equal(t, p.EventID, hub.rooms[0])

	stored, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalVotes)
	assert.Equal(t, 2, stored.Version)
}

func TestEngineCastVoteRetriesOnConflict(t *testing.T) {
	e, store, _, creator := newTestEngine(t)
	p := createTestPoll(t, e, creator, models.PollConfig{})

	store.conflicts = 2
	_, err := e.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	assert.NoError(t, err)
}

func TestEngineCastVoteRetriesExhausted(t *testing.T) {
	e, store, _, creator := newTestEngine(t)
	p := createTestPoll(t, e, creator, models.PollConfig{})

	store.conflicts = maxUpdateAttempts
	_, err := e.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInfrastructure))
}

func TestEngineConcurrentVotesNoLostUpdate(t *testing.T) {
	e, store, _, creator := newTestEngine(t)
	p := createTestPoll(t, e, creator, models.PollConfig{})

	const voters = 16
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := uuid.New()
			optionID := p.Options[n%2].ID
			for {
				_, err := e.CastVote(context.Background(), p.ID, user, optionID)
				if err == nil {
					return
				}
				// contention can exhaust the bounded retries; the vote
				// itself was never applied, so try again
				if apperr.IsKind(err, apperr.KindInfrastructure) {
					continue
				}
				t.Errorf("unexpected error: %v", err)
				return
			}
		}(i)
	}
	wg.Wait()

	stored, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, voters, stored.TotalVotes)

	sum := 0
	for _, opt := range stored.Options {
		sum += opt.VoteCount
		assert.Len(t, opt.Voters, opt.VoteCount)
	}
	assert.Equal(t, voters, sum)
	assert.Len(t, stored.VotersList, voters)
}

func TestEngineLazyExpiryPersistsBeforeRejecting(t *testing.T) {
	e, store, hub, creator := newTestEngine(t)
	past := time.Now().Add(-time.Minute)
	p := createTestPoll(t, e, creator, models.PollConfig{ExpiresAt: &past})

	// reads do not flip expiry state
	got, err := e.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusActive, got.Status)

	_, err = e.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	assert.ErrorIs(t, err, models.ErrPollExpired)

	stored, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusExpired, stored.Status)
	assert.False(t, stored.IsActive)
	assert.Equal(t, 0, stored.TotalVotes)
	assert.Equal(t, 1, hub.count(), "status flip is broadcast")

	// subsequent votes see the inactive poll
	_, err = e.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	assert.ErrorIs(t, err, models.ErrPollInactive)
}

func TestEngineClockInjection(t *testing.T) {
	e, store, _, creator := newTestEngine(t)
	deadline := time.Now().Add(time.Hour)
	p := createTestPoll(t, e, creator, models.PollConfig{ExpiresAt: &deadline})

	// vote lands before the deadline
	_, err := e.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	require.NoError(t, err)

	// advance the clock past the deadline
	e.now = func() time.Time { return deadline.Add(time.Second) }
	_, err = e.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	assert.ErrorIs(t, err, models.ErrPollExpired)

	stored, _ := store.GetByID(context.Background(), p.ID)
	assert.Equal(t, 1, stored.TotalVotes, "the pre-deadline vote survives")
}

func TestEngineRemoveVote(t *testing.T) {
	e, _, _, creator := newTestEngine(t)
	p := createTestPoll(t, e, creator, models.PollConfig{})
	user := uuid.New()

	_, err := e.CastVote(context.Background(), p.ID, user, p.Options[0].ID)
	require.NoError(t, err)

	removed, err := e.RemoveVote(context.Background(), p.ID, user, p.Options[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, removed.TotalVotes)

	_, err = e.RemoveVote(context.Background(), p.ID, user, p.Options[0].ID)
	assert.ErrorIs(t, err, models.ErrVoteNotFound)
}

func TestEngineCloseAndReopen(t *testing.T) {
	e, _, _, creator := newTestEngine(t)
	p := createTestPoll(t, e, creator, models.PollConfig{})

	closed, err := e.ClosePoll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusClosed, closed.Status)

	// idempotent
	closed, err = e.ClosePoll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusClosed, closed.Status)

	reopened, err := e.ReopenPoll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusActive, reopened.Status)
	assert.True(t, reopened.IsActive)

	_, err = e.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	assert.NoError(t, err, "votes accepted again after reopen")
}

func TestEngineResultsUnknownPoll(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	_, err := e.Results(context.Background(), uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
