package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"example.com/aki-mvp/internal/auth"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // MVP
}

type wsConn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.ws.Close()
	})
}

// wsEvent — входящий конверт: вид события и вариант ответа.
// Ключ разговора фиксируется на всё соединение.
type wsEvent struct {
	Kind   string `json:"kind"`
	Answer string `json:"answer,omitempty"`
}

// HandleWS — интерактивный вход: GET /ws?conversationKey=xxx&token=yyy.
// Каждое сообщение — один ход, каждый ответ — один Result.
func (h *EventHandler) HandleWS(secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("conversationKey")
		token := r.URL.Query().Get("token")

		if key == "" || token == "" {
			http.Error(w, "missing conversationKey or token", http.StatusBadRequest)
			return
		}
		if _, err := auth.Verify(secret, token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		conn := &wsConn{
			ws:   ws,
			send: make(chan []byte, 16),
		}
		defer conn.Close()

		// writer loop
		go func() {
			ticker := time.NewTicker(25 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case msg, ok := <-conn.send:
					if !ok {
						return
					}
					_ = ws.WriteMessage(websocket.TextMessage, msg)
				case <-ticker.C:
					_ = ws.WriteMessage(websocket.PingMessage, []byte{})
				}
			}
		}()

		// reader loop: события строго по одному, как того требует
		// сериализация ходов разговора
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}

			var ev wsEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				conn.sendJSON(ErrorResponse{Code: "bad_json", Message: "invalid json"})
				continue
			}

			gev, errCode, errMsg := parseEvent(EventRequest{
				ConversationKey: key,
				Kind:            ev.Kind,
				Answer:          ev.Answer,
			})
			if errCode != "" {
				conn.sendJSON(ErrorResponse{Code: errCode, Message: errMsg})
				continue
			}

			res, err := h.Games.HandleEvent(r.Context(), key, gev)
			if err != nil {
				h.logger().Error("ws turn failed", "key", key, "err", err)
				conn.sendJSON(ErrorResponse{Code: "unavailable", Message: "retry the same input"})
				continue
			}

			conn.sendJSON(EventResponse{Text: res.Text, ImageURL: res.ImageURL})
		}
	}
}

func (c *wsConn) sendJSON(v any) {
	b, _ := json.Marshal(v)
	select {
	case c.send <- b:
	default:
		// клиент не успевает читать — дропаем
	}
}
