package polls

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherspace/backend/internal/models"
	"github.com/gatherspace/backend/pkg/response"
)

// Handler exposes the poll engine over HTTP.
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// CreateRequest is the poll creation body.
type CreateRequest struct {
	EventID            string     `json:"eventId" binding:"required"`
	Question           string     `json:"question" binding:"required"`
	Description        string     `json:"description"`
	Options            []string   `json:"options" binding:"required"`
	CreatedBy          string     `json:"createdBy" binding:"required"`
	AllowMultipleVotes bool       `json:"allowMultipleVotes"`
	ExpiresAt          *time.Time `json:"expiresAt"`
	PollType           string     `json:"pollType"`
}

// VoteRequest is the cast/remove vote body.
type VoteRequest struct {
	UserID   string `json:"userId" binding:"required"`
	OptionID string `json:"optionId" binding:"required"`
}

// Create handles POST /api/polls.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		response.BadRequest(c, "invalid eventId")
		return
	}
	createdBy, err := uuid.Parse(req.CreatedBy)
	if err != nil {
		response.BadRequest(c, "invalid createdBy")
		return
	}

	poll, err := h.engine.Create(c.Request.Context(), eventID, req.Question, req.Options, createdBy, models.PollConfig{
		Description:        req.Description,
		AllowMultipleVotes: req.AllowMultipleVotes,
		ExpiresAt:          req.ExpiresAt,
		PollType:           req.PollType,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, poll)
}

// GetByID handles GET /api/polls/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	poll, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, poll)
}

// ListByEvent handles GET /api/polls/event/:eventId.
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	polls, err := h.engine.ListByEvent(c.Request.Context(), eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, polls)
}

// Vote handles POST /api/polls/:id/vote.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid userId")
		return
	}

	poll, err := h.engine.CastVote(c.Request.Context(), pollID, userID, req.OptionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, poll)
}

// RemoveVote handles DELETE /api/polls/:id/vote.
func (h *Handler) RemoveVote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid userId")
		return
	}

	poll, err := h.engine.RemoveVote(c.Request.Context(), pollID, userID, req.OptionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, poll)
}

// Close handles PATCH /api/polls/:id/close.
func (h *Handler) Close(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	poll, err := h.engine.ClosePoll(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, poll)
}

// Reopen handles PATCH /api/polls/:id/reopen.
func (h *Handler) Reopen(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	poll, err := h.engine.ReopenPoll(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, poll)
}

// Results handles GET /api/polls/:id/results.
func (h *Handler) Results(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	results, err := h.engine.Results(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, results)
}

// Stats handles GET /api/stats/polls.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}
