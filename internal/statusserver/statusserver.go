// Package statusserver answers status-control-plane requests over the local
// socket/named-pipe opened by internal/ipc: the `status` CLI subcommand
// connects, sends a snapshot_request, and gets back the current
// metrics.Snapshot as a snapshot_reply. There is nothing here reachable
// from outside the host.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/haloframe/screenlogd/internal/ipc"
	"github.com/haloframe/screenlogd/internal/logging"
	"github.com/haloframe/screenlogd/internal/metrics"
)

var log = logging.L("statusserver")

// Serve listens on path and answers requests until ctx is cancelled.
func Serve(ctx context.Context, path string, m *metrics.Metrics) error {
	listener, err := ipc.Listen(path)
	if err != nil {
		return err
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Info("status server listening", "path", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("accept failed", "error", err)
			continue
		}
		go handleConn(conn, m)
	}
}

func handleConn(conn net.Conn, m *metrics.Metrics) {
	defer conn.Close()
	ic := ipc.NewConn(conn)

	for {
		env, err := ic.Recv()
		if err != nil {
			return
		}

		switch env.Type {
		case ipc.TypeSnapshotRequest:
			if err := ic.SendTyped(env.ID, ipc.TypeSnapshotReply, snapshotReply(m)); err != nil {
				log.Warn("send snapshot reply failed", "error", err)
				return
			}
		case ipc.TypePing:
			if err := ic.SendTyped(env.ID, ipc.TypePong, struct{}{}); err != nil {
				return
			}
		default:
			if err := ic.SendError(env.ID, env.Type, "unknown message type"); err != nil {
				return
			}
		}
	}
}

func snapshotReply(m *metrics.Metrics) ipc.SnapshotReply {
	snap := m.Snapshot()
	return ipc.SnapshotReply{
		DeploymentID:        snap.DeploymentID,
		UptimeSecs:          snap.UptimeSecs,
		FramesCaptured:      snap.FramesCaptured,
		FramesDedupedMemory: snap.FramesDedupedMemory,
		FramesDedupedDB:     snap.FramesDedupedDB,
		FramesStored:        snap.FramesStored,
		FramesFailed:        snap.FramesFailed,
		HashHits:            snap.HashHits,
		QueueDepths:         snap.QueueDepths,
		QueueCapacities:     snap.QueueCapacities,
		ProcessRSSBytes:     snap.ProcessRSSBytes,
		HostCPUPercent:      snap.HostCPUPercent,
	}
}

// Query connects to path, sends a snapshot request, and returns the reply.
// Used by the `status` CLI subcommand.
func Query(path string) (*ipc.SnapshotReply, error) {
	conn, err := ipc.Dial(path)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ic := ipc.NewConn(conn)
	if err := ic.SendTyped("1", ipc.TypeSnapshotRequest, struct{}{}); err != nil {
		return nil, err
	}

	env, err := ic.Recv()
	if err != nil {
		return nil, err
	}
	if env.Error != "" {
		return nil, errors.New(env.Error)
	}

	var reply ipc.SnapshotReply
	if err := json.Unmarshal(env.Payload, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
