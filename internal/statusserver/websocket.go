// WebSocket push endpoint: a read-only complement to the request/reply IPC
// server in statusserver.go. Where Serve answers one-shot snapshot_requests
// over a local socket, ServeWS accepts loopback WebSocket connections and
// pushes a fresh metrics.Snapshot on every tick, for dashboards or other
// local tooling that wants a live feed instead of polling. It never reads
// commands off the connection — this mirrors the teacher's
// internal/websocket client, turned around to run server-side.
package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haloframe/screenlogd/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPushPeriod = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	// Loopback-only endpoint: there is no cross-origin browser client, so
	// the usual origin check would only get in the way of local tools.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS starts an HTTP server on addr exposing a single "/ws" endpoint
// that upgrades to a WebSocket and pushes metrics snapshots until the
// client disconnects or ctx is cancelled. It blocks until ctx is cancelled
// or the listener fails.
func ServeWS(ctx context.Context, addr string, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWS(ctx, w, r, m)
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info("status websocket server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request, m *metrics.Metrics) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log.Debug("websocket client connected", "remote", r.RemoteAddr)

	// readPump exists only to notice the client going away; the status feed
	// doesn't accept commands over this connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pushTicker := time.NewTicker(wsPushPeriod)
	defer pushTicker.Stop()
	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			log.Debug("websocket client disconnected", "remote", r.RemoteAddr)
			return
		case <-pushTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			payload, err := json.Marshal(snapshotReply(m))
			if err != nil {
				log.Warn("failed to marshal snapshot", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warn("websocket write failed", "error", err)
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
