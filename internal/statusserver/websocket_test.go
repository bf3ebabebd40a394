package statusserver

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haloframe/screenlogd/internal/ipc"
	"github.com/haloframe/screenlogd/internal/metrics"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestServeWSPushesSnapshots(t *testing.T) {
	addr := freeAddr(t)
	m := metrics.New()
	m.IncFramesCaptured()
	m.IncFramesStored()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- ServeWS(ctx, addr, m) }()

	var conn *websocket.Conn
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err == nil {
			conn = c
			break
		}
		lastErr = err
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatalf("never connected to websocket endpoint: %v", lastErr)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var reply ipc.SnapshotReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		t.Fatalf("unmarshal snapshot push: %v", err)
	}
	if reply.FramesCaptured != 1 {
		t.Fatalf("FramesCaptured = %d, want 1", reply.FramesCaptured)
	}
	if reply.FramesStored != 1 {
		t.Fatalf("FramesStored = %d, want 1", reply.FramesStored)
	}
}
