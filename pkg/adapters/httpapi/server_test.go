package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pergolahq/pergola"
	"github.com/pergolahq/pergola/pkg/adapters/memory"
	"github.com/pergolahq/pergola/pkg/domain"
	"github.com/pergolahq/pergola/pkg/session"
)

func apiFlow() *domain.FlowConfig {
	return &domain.FlowConfig{
		Name:  "support",
		Entry: "greeting",
		States: map[string]*domain.StateDef{
			"greeting": {
				Default: "clarify_interest",
				Rules: []domain.Rule{
					{Priority: 10, Intent: "show_interest", Action: "acknowledge", Target: "discovery"},
				},
			},
			"discovery": {
				OnEnter: "probe_needs",
				Default: "keep_probing",
			},
		},
	}
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	flow := apiFlow()
	engine, err := pergola.New(flow)
	require.NoError(t, err)

	sessions := session.NewManager(memory.NewStore())
	return NewHandler(engine, sessions, engine.Flow(), nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSpecDocument(t *testing.T) {
	doc, err := SpecDocument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Pergola Flow Engine API", doc.Info.Title)
	assert.Contains(t, doc.Paths.Map(), "/conversations/{id}/turns")
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "support", body["flow"])
}

func TestInspectFlow(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/flow", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var states []domain.StateDef
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 2)
	assert.Equal(t, "discovery", states[0].Name)
	assert.Equal(t, "greeting", states[1].Name)
}

func TestServeOpenAPISpec(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "openapi:")
}

func TestCreateConversation(t *testing.T) {
	h := newTestHandler(t)

	t.Run("explicit id", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/conversations", map[string]string{"id": "conv-1"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var convo domain.ConversationContext
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convo))
		assert.Equal(t, "conv-1", convo.ID)
		assert.Equal(t, "greeting", convo.CurrentState)
	})

	t.Run("generated id", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/conversations", nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		var convo domain.ConversationContext
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convo))
		assert.NotEmpty(t, convo.ID)
	})
}

func TestGetConversation(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/conversations", map[string]string{"id": "conv-1"})

	rec := doJSON(t, h, http.MethodGet, "/conversations/conv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var convo domain.ConversationContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convo))
	assert.Equal(t, "conv-1", convo.ID)

	rec = doJSON(t, h, http.MethodGet, "/conversations/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConversation(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/conversations", map[string]string{"id": "conv-1"})

	rec := doJSON(t, h, http.MethodDelete, "/conversations/conv-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/conversations/conv-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessTurn(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/conversations", map[string]string{"id": "conv-1"})

	rec := doJSON(t, h, http.MethodPost, "/conversations/conv-1/turns", map[string]any{
		"intent":         "show_interest",
		"confidence":     0.9,
		"extracted_data": map[string]any{"name": "Dana"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var decision domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, "acknowledge", decision.Action)
	assert.Equal(t, "discovery", decision.NextState)
	assert.Equal(t, "Dana", decision.CollectedData["name"])

	// The mutation was persisted.
	rec = doJSON(t, h, http.MethodGet, "/conversations/conv-1", nil)
	var convo domain.ConversationContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convo))
	assert.Equal(t, "discovery", convo.CurrentState)
	assert.Equal(t, 1, convo.TurnCount)
}

func TestProcessTurnErrors(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/conversations", map[string]string{"id": "conv-1"})

	t.Run("missing intent", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/conversations/conv-1/turns", map[string]any{"confidence": 0.5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/conversations/conv-1/turns", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/conversations/ghost/turns", map[string]any{"intent": "show_interest"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestResumeNotInterrupted(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/conversations", map[string]string{"id": "conv-1"})

	rec := doJSON(t, h, http.MethodPost, "/conversations/conv-1/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/conversations", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
