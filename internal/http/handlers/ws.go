package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	// Cross-origin access is governed by the owner key, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WatchWorkflow streams aggregate snapshots over a websocket. The current
// snapshot is sent on connect, then one message per checkpoint; slow readers
// receive the latest state rather than every intermediate one.
func (a *App) WatchWorkflow(w http.ResponseWriter, r *http.Request) {
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}
	defer conn.Close()

	snapshots, cancel := e.Subscribe()
	defer cancel()

	// Drain the reader so close frames and pongs are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	send := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}
	if err := send(e.Snapshot()); err != nil {
		return
	}

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()
	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := send(snap); err != nil {
				return
			}
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
