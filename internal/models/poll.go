package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherspace/backend/pkg/apperr"
)

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	PollStatusActive  PollStatus = "active"
	PollStatusClosed  PollStatus = "closed"
	PollStatusExpired PollStatus = "expired"
)

// Poll type values.
const (
	PollTypeSingle   = "single"
	PollTypeMultiple = "multiple"
)

// Poll validation limits.
const (
	MinPollOptions    = 2
	MaxPollOptions    = 10
	MinQuestionLen    = 5
	MaxQuestionLen    = 500
	MaxDescriptionLen = 1000
	MaxOptionTextLen  = 200
)

// Domain errors raised by poll mutations.
var (
	ErrPollInactive  = apperr.BusinessRule("poll is not active")
	ErrPollExpired   = apperr.BusinessRule("poll has expired")
	ErrDuplicateVote = apperr.BusinessRule("user has already voted")
	ErrInvalidOption = apperr.NotFound("option not found")
	ErrVoteNotFound  = apperr.BusinessRule("vote not found for this user")
)

// PollVoter records a single vote on an option.
type PollVoter struct {
	UserID  uuid.UUID `json:"userId"`
	VotedAt time.Time `json:"votedAt"`
}

// PollOption is one selectable choice inside a poll. Options are value
// objects embedded in their poll; they are never mutated except through
// the Poll's methods.
type PollOption struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	VoteCount int         `json:"voteCount"`
	Voters    []PollVoter `json:"voters"`
}

func (o *PollOption) hasVoter(userID uuid.UUID) bool {
	for _, v := range o.Voters {
		if v.UserID == userID {
			return true
		}
	}
	return false
}

// Poll is the aggregate root for a question with 2..10 options. All
// invariant-preserving mutation (votes, status transitions) goes through
// its methods; repositories persist the aggregate whole.
type Poll struct {
	ID                 uuid.UUID    `json:"id"`
	EventID            uuid.UUID    `json:"eventId"`
	Question           string       `json:"question"`
	Description        string       `json:"description,omitempty"`
	Options            []PollOption `json:"options"`
	CreatedBy          uuid.UUID    `json:"createdBy"`
	CreatorName        string       `json:"creatorName"`
	IsActive           bool         `json:"isActive"`
	Status             PollStatus   `json:"status"`
	TotalVotes         int          `json:"totalVotes"`
	AllowMultipleVotes bool         `json:"allowMultipleVotes"`
	VotersList         []uuid.UUID  `json:"votersList"`
	ExpiresAt          *time.Time   `json:"expiresAt,omitempty"`
	PollType           string       `json:"pollType"`
	Version            int          `json:"-"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// PollConfig carries optional creation settings.
type PollConfig struct {
	Description        string
	AllowMultipleVotes bool
	ExpiresAt          *time.Time
	PollType           string
}

// NewPoll validates inputs and returns a new active poll.
func NewPoll(eventID uuid.UUID, question string, optionTexts []string, createdBy uuid.UUID, creatorName string, cfg PollConfig) (*Poll, error) {
	question = strings.TrimSpace(question)
	if len(question) < MinQuestionLen || len(question) > MaxQuestionLen {
		return nil, apperr.Validation("question must be between 5 and 500 characters")
	}
	if len(cfg.Description) > MaxDescriptionLen {
		return nil, apperr.Validation("description must be at most 1000 characters")
	}
	if len(optionTexts) < MinPollOptions || len(optionTexts) > MaxPollOptions {
		return nil, apperr.Validation("poll must have between 2 and 10 options")
	}
	options := make([]PollOption, 0, len(optionTexts))
	for _, text := range optionTexts {
		text = strings.TrimSpace(text)
		if text == "" || len(text) > MaxOptionTextLen {
			return nil, apperr.Validation("option text must be between 1 and 200 characters")
		}
		options = append(options, PollOption{ID: uuid.New().String(), Text: text})
	}

	pollType := cfg.PollType
	if pollType == "" {
		pollType = PollTypeSingle
		if cfg.AllowMultipleVotes {
			pollType = PollTypeMultiple
		}
	}
	if pollType != PollTypeSingle && pollType != PollTypeMultiple {
		return nil, apperr.Validation("pollType must be single or multiple")
	}

	return &Poll{
		ID:                 uuid.New(),
		EventID:            eventID,
		Question:           question,
		Description:        strings.TrimSpace(cfg.Description),
		Options:            options,
		CreatedBy:          createdBy,
		CreatorName:        creatorName,
		IsActive:           true,
		Status:             PollStatusActive,
		AllowMultipleVotes: cfg.AllowMultipleVotes,
		ExpiresAt:          cfg.ExpiresAt,
		PollType:           pollType,
		CreatedAt:          time.Now(),
	}, nil
}

// Expired reports whether expiresAt has passed. Expiry is only enforced
// lazily, at the next vote attempt; read paths do not flip state.
func (p *Poll) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// MarkExpired transitions the poll to expired.
func (p *Poll) MarkExpired() {
	p.Status = PollStatusExpired
	p.IsActive = false
}

// Close transitions active->closed. Idempotent.
func (p *Poll) Close() {
	p.Status = PollStatusClosed
	p.IsActive = false
}

// Reopen transitions closed/expired->active. Idempotent. ExpiresAt is
// deliberately left untouched: reopening a past-expiry poll means the
// next vote attempt will immediately re-expire it unless an admin
// extends the deadline first.
func (p *Poll) Reopen() {
	p.Status = PollStatusActive
	p.IsActive = true
}

func (p *Poll) option(optionID string) *PollOption {
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			return &p.Options[i]
		}
	}
	return nil
}

// HasVoter reports whether the user has cast at least one vote.
func (p *Poll) HasVoter(userID uuid.UUID) bool {
	for _, id := range p.VotersList {
		if id == userID {
			return true
		}
	}
	return false
}

// CastVote applies a vote by userID on optionID. Checks run in order:
// poll active, not a repeat voter (single-vote polls), option exists,
// not a repeat vote on this option. The aggregate is only mutated when
// every check passes. Expiry is the caller's concern (see Expired); the
// expired state flip must be persisted before the rejection surfaces.
func (p *Poll) CastVote(userID uuid.UUID, optionID string, now time.Time) error {
	if !p.IsActive || p.Status != PollStatusActive {
		return ErrPollInactive
	}
	if !p.AllowMultipleVotes && p.HasVoter(userID) {
		return ErrDuplicateVote
	}
	opt := p.option(optionID)
	if opt == nil {
		return ErrInvalidOption
	}
	if opt.hasVoter(userID) {
		return ErrDuplicateVote
	}

	opt.VoteCount++
	opt.Voters = append(opt.Voters, PollVoter{UserID: userID, VotedAt: now})
	if !p.HasVoter(userID) {
		p.VotersList = append(p.VotersList, userID)
	}
	p.TotalVotes++
	return nil
}

// RemoveVote withdraws userID's vote on optionID. Counters floor at
// zero; the user leaves votersList once they hold no votes anywhere in
// the poll.
func (p *Poll) RemoveVote(userID uuid.UUID, optionID string) error {
	opt := p.option(optionID)
	if opt == nil {
		return ErrInvalidOption
	}
	idx := -1
	for i, v := range opt.Voters {
		if v.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrVoteNotFound
	}

	opt.Voters = append(opt.Voters[:idx], opt.Voters[idx+1:]...)
	if opt.VoteCount > 0 {
		opt.VoteCount--
	}
	if p.TotalVotes > 0 {
		p.TotalVotes--
	}

	stillVoting := false
	for i := range p.Options {
		if p.Options[i].hasVoter(userID) {
			stillVoting = true
			break
		}
	}
	if !stillVoting {
		for i, id := range p.VotersList {
			if id == userID {
				p.VotersList = append(p.VotersList[:i], p.VotersList[i+1:]...)
				break
			}
		}
	}
	return nil
}

// OptionResult is the derived result for a single option.
type OptionResult struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	VoteCount  int     `json:"voteCount"`
	Percentage float64 `json:"percentage"`
	VoterCount int     `json:"voterCount"`
}

// PollResults is the aggregate view returned by GET /polls/:id/results.
type PollResults struct {
	PollID     uuid.UUID      `json:"pollId"`
	Question   string         `json:"question"`
	Status     PollStatus     `json:"status"`
	IsActive   bool           `json:"isActive"`
	TotalVotes int            `json:"totalVotes"`
	Results    []OptionResult `json:"results"`
}

// Results computes per-option vote counts and percentages (two decimal
// places; all zero when the poll has no votes).
func (p *Poll) Results() *PollResults {
	out := &PollResults{
		PollID:     p.ID,
		Question:   p.Question,
		Status:     p.Status,
		IsActive:   p.IsActive,
		TotalVotes: p.TotalVotes,
		Results:    make([]OptionResult, 0, len(p.Options)),
	}
	for _, opt := range p.Options {
		pct := 0.0
		if p.TotalVotes > 0 {
			pct = math.Round(float64(opt.VoteCount)/float64(p.TotalVotes)*100*100) / 100
		}
		out.Results = append(out.Results, OptionResult{
			ID:         opt.ID,
			Text:       opt.Text,
			VoteCount:  opt.VoteCount,
			Percentage: pct,
			VoterCount: len(opt.Voters),
		})
	}
	return out
}

// PollStats aggregates counters across all polls.
type PollStats struct {
	TotalPolls      int     `json:"totalPolls"`
	ActivePolls     int     `json:"activePolls"`
	ClosedPolls     int     `json:"closedPolls"`
	ExpiredPolls    int     `json:"expiredPolls"`
	TotalVotes      int     `json:"totalVotes"`
	AvgVotesPerPoll float64 `json:"avgVotesPerPoll"`
}
