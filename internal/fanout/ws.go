package fanout

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/benwashere/swimfeed/internal/errs"
	"github.com/benwashere/swimfeed/internal/flightstate"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// WebSocketHandler serves GET /ws: on connect it sends an initial
// snapshot envelope, then streams update/remove/stats envelopes as one
// JSON text frame each, per spec.md §4.5.
type WebSocketHandler struct {
	Registry     *Registry
	Store        *flightstate.Store
	WriteTimeout time.Duration
	Log          *logrus.Entry
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.WithError(err).Warn("fanout: websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	client := h.Registry.Register(id, "")
	defer h.Registry.Unregister(id)

	writeTimeout := h.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// A connected client that never sends anything still needs its
	// disconnect detected; a dedicated reader goroutine drains and
	// discards inbound frames until the connection errors or closes.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := flightstate.Envelope{Type: "snapshot", Flights: h.Store.Snapshot()}
	if err := writeJSON(conn, writeTimeout, snapshot); err != nil {
		conn.Close()
		return
	}

	defer conn.Close()
	for {
		env, ok := client.queue.Pop(ctx)
		if !ok {
			return
		}
		if err := writeJSON(conn, writeTimeout, env); err != nil {
			cioErr := errs.ClientIO("WebSocketHandler.ServeHTTP", err)
			h.Log.WithError(cioErr).WithField("client", id).Warn("fanout: client write failed, disconnecting")
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, timeout time.Duration, v any) error {
	conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteJSON(v)
}
