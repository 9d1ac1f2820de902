package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/artpar/cafedeploy/internal/shell/scheduler"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Stream clients authenticate with the API token, so any origin is accepted.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleDeploymentEvents streams a deployment over a websocket. The first
// frame is a snapshot; pipeline events follow until the run settles, when
// the server closes the connection normally. A settled deployment gets its
// final snapshot and an immediate close.
func (h *Handler) handleDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, snap, err := h.service.Subscribe(id)
	if errors.Is(err, scheduler.ErrNotFound) {
		h.streamSettled(w, r, id)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to subscribe", "internal_error")
		return
	}
	defer h.service.Unsubscribe(sub)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "deployment_id", id, "error", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("deployment_id", id, "subscriber_id", sub.ID)
	logger.Debug("event stream opened")

	if err := writeFrame(conn, StreamMessage{Type: "snapshot", Deployment: stateResponse(snap)}); err != nil {
		return
	}

	gone := readPump(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Ch:
			if !ok {
				closeNormally(conn, "deployment settled")
				logger.Debug("event stream completed")
				return
			}
			if err := writeFrame(conn, e); err != nil {
				logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			logger.Debug("event stream closed by client")
			return
		}
	}
}

func (h *Handler) streamSettled(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment", "internal_error")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := writeFrame(conn, StreamMessage{Type: "snapshot", Deployment: h.describe(*rec)}); err != nil {
		return
	}
	closeNormally(conn, "deployment settled")
}

// readPump discards client frames and answers pongs. The returned channel
// closes once the client goes away.
func readPump(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return gone
}

func writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func closeNormally(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
