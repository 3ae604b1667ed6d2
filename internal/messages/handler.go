package messages

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherspace/backend/internal/models"
	"github.com/gatherspace/backend/internal/realtime"
	"github.com/gatherspace/backend/pkg/apperr"
	"github.com/gatherspace/backend/pkg/queue"
	"github.com/gatherspace/backend/pkg/response"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Store persists chat messages.
type Store interface {
	Create(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	List(ctx context.Context, limit, skip int) ([]*models.Message, error)
	Search(ctx context.Context, q string, limit int) ([]*models.Message, error)
	ByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) (*models.Message, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID, at time.Time) (*models.Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (*models.MessageStats, error)
}

// Broadcaster fans out new messages to the event's room.
type Broadcaster interface {
	Broadcast(roomID uuid.UUID, event string, payload interface{})
}

// Directory resolves sender display names at creation time.
type Directory interface {
	Resolve(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Archiver schedules background archive jobs.
type Archiver interface {
	EnqueueMessageArchive(ctx context.Context, payload queue.MessageArchivePayload) error
}

// Handler exposes the message store over HTTP.
type Handler struct {
	store     Store
	directory Directory
	hub       Broadcaster
	archiver  Archiver
	logger    *zap.Logger
}

// NewHandler creates a messages handler. hub, directory and archiver may
// be nil.
func NewHandler(store Store, directory Directory, hub Broadcaster, archiver Archiver, logger *zap.Logger) *Handler {
	return &Handler{store: store, directory: directory, hub: hub, archiver: archiver, logger: logger}
}

// CreateRequest is the message creation body.
type CreateRequest struct {
	Sender      string `json:"sender" binding:"required"`
	SenderName  string `json:"senderName"`
	Content     string `json:"content" binding:"required"`
	MessageType string `json:"messageType"`
	EventID     string `json:"eventId"`
}

// EditRequest is the message edit body. UserID must match the original
// sender.
type EditRequest struct {
	UserID  string `json:"userId" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// ReadRequest is the mark-read body.
type ReadRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// Create handles POST /api/messages.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	sender, err := uuid.Parse(req.Sender)
	if err != nil {
		response.BadRequest(c, "invalid sender")
		return
	}
	var eventID *uuid.UUID
	if req.EventID != "" {
		id, err := uuid.Parse(req.EventID)
		if err != nil {
			response.BadRequest(c, "invalid eventId")
			return
		}
		eventID = &id
	}

	senderName := req.SenderName
	if senderName == "" && h.directory != nil {
		u, err := h.directory.Resolve(c.Request.Context(), sender)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				response.BadRequest(c, "sender not found")
				return
			}
			response.Error(c, err)
			return
		}
		senderName = u.DisplayName
	}

	m, err := models.NewMessage(sender, senderName, req.Content, models.MessageType(req.MessageType), eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.store.Create(c.Request.Context(), m); err != nil {
		response.Error(c, err)
		return
	}
	if h.hub != nil && eventID != nil {
		h.hub.Broadcast(*eventID, realtime.EventNewMessage, m)
	}
	response.Created(c, m)
}

// List handles GET /api/messages with limit/skip pagination.
func (h *Handler) List(c *gin.Context) {
	limit := queryLimit(c)
	skip := queryInt(c, "skip", 0)
	msgs, err := h.store.List(c.Request.Context(), limit, skip)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msgs)
}

// Recent handles GET /api/messages/recent.
func (h *Handler) Recent(c *gin.Context) {
	limit := queryLimit(c)
	msgs, err := h.store.List(c.Request.Context(), limit, 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msgs)
}

// Search handles GET /api/messages/search?q=.
func (h *Handler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		response.BadRequest(c, "query parameter q is required")
		return
	}
	limit := queryLimit(c)
	msgs, err := h.store.Search(c.Request.Context(), q, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msgs)
}

// ByUser handles GET /api/messages/user/:userId.
func (h *Handler) ByUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	limit := queryLimit(c)
	msgs, err := h.store.ByUser(c.Request.Context(), userID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msgs)
}

// GetByID handles GET /api/messages/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	m, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// Edit handles PUT /api/messages/:id. Only the original sender may edit.
func (h *Handler) Edit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid userId")
		return
	}
	content, err := models.ValidateMessageContent(req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}

	m, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if m.Sender != userID {
		response.Forbidden(c, "only the sender can edit a message")
		return
	}

	updated, err := h.store.UpdateContent(c.Request.Context(), id, content, time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, updated)
}

// MarkRead handles PATCH /api/messages/:id/read. Idempotent.
func (h *Handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	var req ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid userId")
		return
	}

	m, err := h.store.MarkRead(c.Request.Context(), id, userID, time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// Delete handles DELETE /api/messages/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OKMessage(c, "message deleted")
}

// DeleteOld handles DELETE /api/messages/old/:days. With ?archive=true
// and an archiver configured, the deletion is handed to the background
// worker, which snapshots the messages to object storage first.
func (h *Handler) DeleteOld(c *gin.Context) {
	days, err := strconv.Atoi(c.Param("days"))
	if err != nil || days < 1 {
		response.BadRequest(c, "days must be a positive integer")
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	if c.Query("archive") == "true" && h.archiver != nil {
		requestedBy, _ := uuid.Parse(c.GetString("user_id"))
		err := h.archiver.EnqueueMessageArchive(c.Request.Context(), queue.MessageArchivePayload{
			Before:      cutoff,
			RequestedBy: requestedBy,
		})
		if err != nil {
			response.Error(c, apperr.Infrastructure("failed to schedule archive", err))
			return
		}
		response.OKMessage(c, "archive scheduled")
		return
	}

	count, err := h.store.DeleteOlderThan(c.Request.Context(), cutoff)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"deletedCount": count})
}

// Stats handles GET /api/stats/messages.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func queryLimit(c *gin.Context) int {
	v := queryInt(c, "limit", defaultLimit)
	if v > maxLimit {
		return maxLimit
	}
	return v
}
