package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/aki-mvp/internal/akinator"
	"example.com/aki-mvp/internal/game"
	"example.com/aki-mvp/internal/store"
)

// GameService — контракт контроллера для этого слоя (подменяется в тестах).
type GameService interface {
	HandleEvent(ctx context.Context, key string, ev game.Event) (game.Result, error)
}

// EventRequest — входящий контракт презентационного слоя:
// (ключ разговора, вид события, вариант ответа).
type EventRequest struct {
	ConversationKey string `json:"conversationKey"`
	Kind            string `json:"kind"`
	Answer          string `json:"answer,omitempty"`
}

type EventResponse struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type EventHandler struct {
	Games GameService
	Stats *store.StatsStore // может быть nil
	Log   *slog.Logger
}

func (h *EventHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// HandleEvent — POST /api/event.
func (h *EventHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}

	ev, errCode, errMsg := parseEvent(req)
	if errCode != "" {
		writeError(w, http.StatusBadRequest, errCode, errMsg)
		return
	}

	turnID := uuid.NewString()
	log := h.logger().With("turn", turnID, "key", req.ConversationKey, "event", req.Kind)

	started := time.Now()
	res, err := h.Games.HandleEvent(r.Context(), req.ConversationKey, ev)
	if err != nil {
		if errors.Is(err, game.ErrStoreUnavailable) {
			log.Error("turn aborted: store unavailable", "err", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable, retry the same input")
			return
		}
		log.Error("turn failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error, retry the same input")
		return
	}

	log.Info("turn complete", "took", time.Since(started))
	writeJSON(w, http.StatusOK, EventResponse{Text: res.Text, ImageURL: res.ImageURL})
}

// HandleStats — GET /api/stats?conversationKey=...
func (h *EventHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if h.Stats == nil {
		writeError(w, http.StatusNotFound, "not_found", "stats are not enabled")
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("conversationKey"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "conversationKey is required")
		return
	}

	st, err := h.Stats.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationKey": st.ConversationKey,
		"wins":            st.Wins,
		"defeats":         st.Defeats,
		"restarts":        st.Restarts,
	})
}

func parseEvent(req EventRequest) (game.Event, string, string) {
	if strings.TrimSpace(req.ConversationKey) == "" {
		return game.Event{}, "bad_request", "conversationKey is required"
	}

	kind, err := game.ParseEventKind(req.Kind)
	if err != nil {
		return game.Event{}, "bad_request", err.Error()
	}

	ev := game.Event{Kind: kind}
	if kind == game.EventAnswer {
		a, err := akinator.ParseAnswer(req.Answer)
		if err != nil {
			return game.Event{}, "bad_request", err.Error()
		}
		ev.Answer = a
	}
	return ev, "", ""
}
