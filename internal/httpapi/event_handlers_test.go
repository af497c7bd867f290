package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/aki-mvp/internal/akinator"
	"example.com/aki-mvp/internal/auth"
	"example.com/aki-mvp/internal/game"
)

type fakeGames struct {
	lastKey string
	lastEv  game.Event
	res     game.Result
	err     error
}

func (f *fakeGames) HandleEvent(ctx context.Context, key string, ev game.Event) (game.Result, error) {
	f.lastKey = key
	f.lastEv = ev
	return f.res, f.err
}

func newEventHandler(games GameService) *EventHandler {
	return &EventHandler{
		Games: games,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func postEvent(t *testing.T, h *EventHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/event", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, req)
	return rec
}

func TestHandleEvent_OK(t *testing.T) {
	games := &fakeGames{res: game.Result{Text: "Вопрос №1", ImageURL: "https://img.example/x.png"}}
	h := newEventHandler(games)

	rec := postEvent(t, h, `{"conversationKey":"vk||1","kind":"answer","answer":"yes"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Вопрос №1", resp.Text)
	assert.Equal(t, "https://img.example/x.png", resp.ImageURL)

	assert.Equal(t, "vk||1", games.lastKey)
	assert.Equal(t, game.EventAnswer, games.lastEv.Kind)
	assert.Equal(t, akinator.AnswerYes, games.lastEv.Answer)
}

func TestHandleEvent_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing key", `{"kind":"start"}`},
		{"unknown kind", `{"conversationKey":"vk||1","kind":"poke"}`},
		{"unknown answer", `{"conversationKey":"vk||1","kind":"answer","answer":"maybe?"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newEventHandler(&fakeGames{})
			rec := postEvent(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var er ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
			assert.Equal(t, "bad_request", er.Code)
		})
	}
}

func TestHandleEvent_StoreUnavailableIs503(t *testing.T) {
	h := newEventHandler(&fakeGames{err: game.ErrStoreUnavailable})

	rec := postEvent(t, h, `{"conversationKey":"vk||1","kind":"start"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var er ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	assert.Equal(t, "unavailable", er.Code)
}

func TestHandleEvent_InternalErrorIs500(t *testing.T) {
	h := newEventHandler(&fakeGames{err: context.DeadlineExceeded})

	rec := postEvent(t, h, `{"conversationKey":"vk||1","kind":"start"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleEvent_MethodNotAllowed(t *testing.T) {
	h := newEventHandler(&fakeGames{})

	req := httptest.NewRequest(http.MethodGet, "/api/event", nil)
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid, ok := ClientIDFromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(cid))
	})
	protected := AuthMiddleware(secret)(next)

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.Sign([]byte("other-secret"), "vk-bot", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := auth.Sign(secret, "vk-bot", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "vk-bot", rec.Body.String())
	})
}
