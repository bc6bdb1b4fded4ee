package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/recognizer"
)

const wsWriteWait = 10 * time.Second

// StreamHandler runs a recognizer over frames sent on a WebSocket. Each
// connection owns its own session, discarded when the socket closes.
type StreamHandler struct {
	rec      *recognizer.Recognizer
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a StreamHandler accepting the given origins.
func NewStreamHandler(rec *recognizer.Recognizer, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		rec: rec,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(allowedOrigins, origin)
			},
		},
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "recognizer", h.rec.Name(), "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	id := uuid.NewString()
	slog.Debug("stream opened", "recognizer", h.rec.Name(), "session", id)

	defer func() {
		h.rec.ResetSession(context.Background(), id)
		slog.Debug("stream closed", "recognizer", h.rec.Name(), "session", id)
	}()

	ctx := r.Context()
	mode := h.rec.Mode()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var body interface{}
		var req recognizeRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Image == "" {
			body = errorBody(mode, errMissingImage)
		} else if res, err := h.rec.Handle(ctx, id, req.Image); err != nil {
			body = errorBody(mode, err)
		} else {
			body = resultBody(mode, res)
		}

		msg, err := json.Marshal(body)
		if err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
