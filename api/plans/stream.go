package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/roster/api/httpx"
	"github.com/kilianp07/roster/core/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type streamParams struct {
	id    string
	from  int64
	until bool
}

// params validates the plan and reads ?from= and ?until=terminal before a
// stream is opened, so failures still get a problem response.
func (h *handler) params(w http.ResponseWriter, r *http.Request) (streamParams, bool) {
	id := r.PathValue("id")
	from, err := httpx.Int64Query(r, "from", 0)
	if err != nil {
		httpx.WriteError(w, r, err)
		return streamParams{}, false
	}
	if _, err := h.svc.Plan(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return streamParams{}, false
	}
	return streamParams{id: id, from: from, until: r.URL.Query().Get("until") == "terminal"}, true
}

// stream replays and follows the plan's events over a websocket. Each
// message is one JSON event. With ?until=terminal the server closes the
// socket after the first terminal status event.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	sp, ok := h.params(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client only sends control frames; a read error means it left.
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	evs := h.svc.Follow(ctx, sp.id, sp.from)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-evs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if sp.until && ev.Terminal() {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, ev.Status.String())
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
		}
	}
}

// sse is the server-sent events variant of stream.
func (h *handler) sse(w http.ResponseWriter, r *http.Request) {
	sp, ok := h.params(w, r)
	if !ok {
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteProblem(w, http.StatusInternalServerError, "streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	ctx := r.Context()
	for ev := range h.svc.Follow(ctx, sp.id, sp.from) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		fl.Flush()
		if sp.until && ev.Terminal() {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, b)
	return err
}
