package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// Broadcaster fans a RunSnapshot frame out to every connected websocket
// client whenever a driver commits a new tick. Adapted from the
// tradernet market-status websocket client's connection-registry/
// best-effort-fan-out shape (internal/clients/tradernet/websocket_client.go),
// inverted from "one client reading a feed" to "many clients reading this
// process's feed". A slow or gone client is dropped after a write times
// out, so it can delay the simulation loop by at most that timeout.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[*websocket.Conn]struct{})}
}

func (b *Broadcaster) handleWS(log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			log.Warn().Err(err).Msg("websocket accept failed")
			return
		}

		b.mu.Lock()
		b.clients[conn] = struct{}{}
		b.mu.Unlock()

		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			b.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "")
		}()

		// Block until the client disconnects; this handler has nothing to
		// read from the client, it only ever writes broadcasts.
		ctx := r.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}
}

// broadcast pushes snap to every connected client, one after another,
// best-effort: a write that doesn't complete within two seconds drops that
// client, so the caller (the driver's tick loop) waits at most that long
// per client instead of blocking indefinitely.
func (b *Broadcaster) broadcast(snap RunSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			b.mu.Lock()
			delete(b.clients, c)
			b.mu.Unlock()
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.Close(websocket.StatusGoingAway, "server shutting down")
		delete(b.clients, c)
	}
}
