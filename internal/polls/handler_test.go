package polls

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherspace/backend/internal/models"
)

type handlerEnv struct {
	router  *gin.Engine
	engine  *Engine
	creator uuid.UUID
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine, _, _, creator := newTestEngine(t)
	h := NewHandler(engine, nil)

	router := gin.New()
	group := router.Group("/api/polls")
	group.POST("", h.Create)
	group.GET("/:id", h.GetByID)
	group.GET("/event/:eventId", h.ListByEvent)
	group.GET("/:id/results", h.Results)
	group.POST("/:id/vote", h.Vote)
	group.DELETE("/:id/vote", h.RemoveVote)
	group.PATCH("/:id/close", h.Close)
	group.PATCH("/:id/reopen", h.Reopen)

	return &handlerEnv{router: router, engine: engine, creator: creator}
}

func (e *handlerEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHandlerCreatePoll(t *testing.T) {
	env := newHandlerEnv(t)
	w := env.do(t, http.MethodPost, "/api/polls", gin.H{
		"eventId":   uuid.New().String(),
		"question":  "Which option do you prefer?",
		"options":   []string{"A", "B"},
		"createdBy": env.creator.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHandlerCreatePollValidation(t *testing.T) {
	env := newHandlerEnv(t)

	// one option
	w := env.do(t, http.MethodPost, "/api/polls", gin.H{
		"eventId":   uuid.New().String(),
		"question":  "Which option do you prefer?",
		"options":   []string{"A"},
		"createdBy": env.creator.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// malformed eventId
	w = env.do(t, http.MethodPost, "/api/polls", gin.H{
		"eventId":   "nope",
		"question":  "Which option do you prefer?",
		"options":   []string{"A", "B"},
		"createdBy": env.creator.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerVoteStatusMapping(t *testing.T) {
	env := newHandlerEnv(t)
	p := createTestPoll(t, env.engine, env.creator, models.PollConfig{})
	user := uuid.New()

	vote := gin.H{"userId": user.String(), "optionId": p.Options[0].ID}

	w := env.do(t, http.MethodPost, "/api/polls/"+p.ID.String()+"/vote", vote)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// duplicate vote is a business-rule rejection
	w = env.do(t, http.MethodPost, "/api/polls/"+p.ID.String()+"/vote", vote)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// unknown option
	w = env.do(t, http.MethodPost, "/api/polls/"+p.ID.String()+"/vote",
		gin.H{"userId": uuid.New().String(), "optionId": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// unknown poll
	w = env.do(t, http.MethodPost, "/api/polls/"+uuid.New().String()+"/vote", vote)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// malformed poll id
	w = env.do(t, http.MethodPost, "/api/polls/abc/vote", vote)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerVoteOnClosedPoll(t *testing.T) {
	env := newHandlerEnv(t)
	p := createTestPoll(t, env.engine, env.creator, models.PollConfig{})

	w := env.do(t, http.MethodPatch, "/api/polls/"+p.ID.String()+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/polls/"+p.ID.String()+"/vote",
		gin.H{"userId": uuid.New().String(), "optionId": p.Options[0].ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/polls/"+p.ID.String()+"/reopen", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/polls/"+p.ID.String()+"/vote",
		gin.H{"userId": uuid.New().String(), "optionId": p.Options[0].ID})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerResults(t *testing.T) {
	env := newHandlerEnv(t)
	p := createTestPoll(t, env.engine, env.creator, models.PollConfig{})
	_, err := env.engine.CastVote(context.Background(), p.ID, uuid.New(), p.Options[0].ID)
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/polls/"+p.ID.String()+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data models.PollResults `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.TotalVotes)
	assert.InDelta(t, 100.0, body.Data.Results[0].Percentage, 0.001)
}

func TestHandlerExpiredVote(t *testing.T) {
	env := newHandlerEnv(t)
	past := time.Now().Add(-time.Minute)
	p := createTestPoll(t, env.engine, env.creator, models.PollConfig{ExpiresAt: &past})

	w := env.do(t, http.MethodPost, "/api/polls/"+p.ID.String()+"/vote",
		gin.H{"userId": uuid.New().String(), "optionId": p.Options[0].ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// the expired transition is visible on subsequent reads
	w = env.do(t, http.MethodGet, "/api/polls/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data models.Poll `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.PollStatusExpired, body.Data.Status)
}

func TestHandlerListByEvent(t *testing.T) {
	env := newHandlerEnv(t)
	p := createTestPoll(t, env.engine, env.creator, models.PollConfig{})

	w := env.do(t, http.MethodGet, "/api/polls/event/"+p.EventID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.Poll `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
}
