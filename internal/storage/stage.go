package storage

import (
	"context"
	"time"

	"github.com/haloframe/screenlogd/internal/logging"
	"github.com/haloframe/screenlogd/internal/metrics"
	"github.com/haloframe/screenlogd/internal/workerpool"
)

var stageLog = logging.L("storage")

// StageConfig carries the knobs the storage stage needs that don't belong
// on Storage or ImageStore themselves.
type StageConfig struct {
	DeploymentID    string
	JPEGQuality     int
	DedupWindowSecs int
}

// RunStage consumes Envelopes from in, DB-deduping, JPEG-encoding, and
// inserting each one that survives. On ctx cancellation it stops pulling
// new work from upstream and instead drains whatever is already buffered in
// in, skipping the DB-level dedup check so shutdown can't stall behind it —
// every frame the pipeline already accepted is still written to disk.
func RunStage(ctx context.Context, in <-chan Envelope, store Storage, images ImageStore, cfg StageConfig, m *metrics.Metrics, pool *workerpool.Pool) {
	stageLog.Info("storage stage started")

	for {
		select {
		case <-ctx.Done():
			stageLog.Info("storage stage received shutdown signal, draining queued frames")
			drain(in, store, images, cfg, m, pool)
			stageLog.Info("storage stage stopped")
			return
		case env, ok := <-in:
			if !ok {
				stageLog.Info("storage channel closed, stopping storage stage")
				return
			}
			if ctx.Err() != nil {
				// Shutdown has begun: this frame takes the drain path too.
				drainOne(env, store, images, cfg, m, pool)
				continue
			}
			storeOne(context.Background(), env, store, images, cfg, m, pool)
		}
	}
}

// jpegResult is the outcome of offloading JPEG encoding to the worker pool.
// The encode runs on a pool goroutine; the storage loop waits for its
// result before taking the next envelope.
type jpegResult struct {
	imageRef  string
	sizeBytes int64
	err       error
}

// storeOne runs the full normal-operation path: DB dedup, JPEG encode,
// insert. A dedup-check failure is logged and treated as "not a duplicate"
// so a flaky lookup doesn't silently drop a frame.
func storeOne(ctx context.Context, env Envelope, store Storage, images ImageStore, cfg StageConfig, m *metrics.Metrics, pool *workerpool.Pool) {
	existing, dup, err := store.IsDuplicate(ctx, env.PHash, cfg.DedupWindowSecs)
	if err != nil {
		stageLog.Warn("DB dedup check failed, proceeding with insert", "displayId", env.DisplayID, "error", err)
	} else if dup {
		m.IncFramesDedupedDB()
		stageLog.Debug("DB dedup: skipping duplicate", "displayId", env.DisplayID, "existingFrame", existing)
		return
	}

	jr, accepted := workerpool.Offload(pool, func() jpegResult {
		ref, size, err := images.SaveJPEG(env.Image, env.CapturedAt, cfg.JPEGQuality)
		return jpegResult{imageRef: ref, sizeBytes: size, err: err}
	})
	if !accepted {
		m.IncFramesFailed()
		stageLog.Error("worker pool rejected JPEG encode task", "displayId", env.DisplayID)
		return
	}
	imageRef, sizeBytes, err := jr.imageRef, jr.sizeBytes, jr.err
	if err != nil {
		m.IncFramesFailed()
		stageLog.Error("failed to save JPEG", "displayId", env.DisplayID, "error", err)
		return
	}

	frameID, err := store.InsertFrame(ctx, env.CapturedAt, cfg.DeploymentID, "", "", imageRef, sizeBytes, env.PHash)
	if err != nil {
		m.IncFramesFailed()
		stageLog.Error("failed to insert frame", "displayId", env.DisplayID, "error", err)
		return
	}

	m.IncFramesStored()
	stageLog.Info("frame stored", "displayId", env.DisplayID, "frameId", frameID, "sizeKb", sizeBytes/1024)
}

// drain flushes whatever is already sitting in in without waiting for more
// to arrive, skipping DB dedup so a slow or unavailable store can't hang
// shutdown. It runs with its own timeout-bounded context per frame so a
// wedged store still lets the process exit.
func drain(in <-chan Envelope, store Storage, images ImageStore, cfg StageConfig, m *metrics.Metrics, pool *workerpool.Pool) {
	for {
		select {
		case env, ok := <-in:
			if !ok {
				return
			}
			drainOne(env, store, images, cfg, m, pool)
		default:
			return
		}
	}
}

func drainOne(env Envelope, store Storage, images ImageStore, cfg StageConfig, m *metrics.Metrics, pool *workerpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jr, accepted := workerpool.Offload(pool, func() jpegResult {
		ref, size, err := images.SaveJPEG(env.Image, env.CapturedAt, cfg.JPEGQuality)
		return jpegResult{imageRef: ref, sizeBytes: size, err: err}
	})
	if !accepted {
		m.IncFramesFailed()
		stageLog.Error("worker pool rejected JPEG encode task (drain)", "displayId", env.DisplayID)
		return
	}
	imageRef, sizeBytes, err := jr.imageRef, jr.sizeBytes, jr.err
	if err != nil {
		m.IncFramesFailed()
		stageLog.Error("failed to save JPEG (drain)", "displayId", env.DisplayID, "error", err)
		return
	}

	frameID, err := store.InsertFrame(ctx, env.CapturedAt, cfg.DeploymentID, "", "", imageRef, sizeBytes, env.PHash)
	if err != nil {
		m.IncFramesFailed()
		stageLog.Error("failed to insert frame (drain)", "displayId", env.DisplayID, "error", err)
		return
	}

	m.IncFramesStored()
	stageLog.Info("frame stored (drain)", "displayId", env.DisplayID, "frameId", frameID)
}
