// Package supervisor wires the capture -> forwarder -> storage pipeline
// together: it builds the bounded queues between stages, spawns one capture
// task per display plus the forwarder and storage tasks, and coordinates a
// graceful shutdown that drains in-flight frames before the process exits.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haloframe/screenlogd/internal/capture"
	"github.com/haloframe/screenlogd/internal/forwarder"
	"github.com/haloframe/screenlogd/internal/health"
	"github.com/haloframe/screenlogd/internal/logging"
	"github.com/haloframe/screenlogd/internal/metrics"
	"github.com/haloframe/screenlogd/internal/phash"
	"github.com/haloframe/screenlogd/internal/storage"
	"github.com/haloframe/screenlogd/internal/workerpool"
)

var log = logging.L("supervisor")

// taskShutdownTimeout bounds how long Run waits, in total, for all pipeline
// tasks to exit after ctx is cancelled before giving up and moving on; there
// is one shared wait, not a separate timeout per task.
const taskShutdownTimeout = 10 * time.Second

// Config carries everything the supervisor needs to build and run the
// pipeline, independent of how it was loaded (flags, file, env).
type Config struct {
	FPS                    float64
	DeploymentID           string
	JPEGQuality            int
	DedupWindowSecs        int
	CaptureChannelCapacity int
	StorageChannelCapacity int
	MetricsLogInterval     time.Duration
	ChannelWarnThreshold   float64
	CleanupInterval        time.Duration
	RetentionDays          int
}

// Supervisor owns the pipeline's queues, metrics, and health monitor, and
// drives the full set of capture/forwarder/storage goroutines.
type Supervisor struct {
	cfg      Config
	platform capture.Platform
	store    storage.Storage
	images   storage.ImageStore

	Metrics *metrics.Metrics
	Health  *health.Monitor

	captureQueue chan capture.RawFrame
	storageQueue chan storage.Envelope

	capturePool *workerpool.Pool
	storagePool *workerpool.Pool
}

// capturePoolWorkers bounds how many displays can be mid-capture/compare at
// once; a handful is plenty since a typical deployment has only a few
// monitors, and each cycle is a short syscall plus an in-memory comparison.
const capturePoolWorkers = 4

// storagePoolWorkers bounds concurrent JPEG encodes; the storage stage is
// single-consumer, so this mainly keeps the encode off the stage's own
// control-flow goroutine rather than adding real parallelism.
const storagePoolWorkers = 2

// New builds a Supervisor. Call Run to start the pipeline.
func New(cfg Config, platform capture.Platform, store storage.Storage, images storage.ImageStore) *Supervisor {
	m := metrics.New()
	s := &Supervisor{
		cfg:          cfg,
		platform:     platform,
		store:        store,
		images:       images,
		Metrics:      m,
		Health:       health.NewMonitor(),
		captureQueue: make(chan capture.RawFrame, cfg.CaptureChannelCapacity),
		storageQueue: make(chan storage.Envelope, cfg.StorageChannelCapacity),
		capturePool:  workerpool.New(capturePoolWorkers, cfg.CaptureChannelCapacity),
		storagePool:  workerpool.New(storagePoolWorkers, cfg.StorageChannelCapacity),
	}

	m.RegisterQueue("capture", func() (int, int) {
		return len(s.captureQueue), cap(s.captureQueue)
	})
	m.RegisterQueue("storage", func() (int, int) {
		return len(s.storageQueue), cap(s.storageQueue)
	})

	return s
}

// Run enumerates displays, spawns one capture task per display plus the
// forwarder, storage, metrics, and cleanup tasks, and blocks until ctx is
// cancelled. It returns once every task has stopped (or timed out).
func (s *Supervisor) Run(ctx context.Context) error {
	displays, err := s.platform.ListDisplays()
	if err != nil {
		return fmt.Errorf("supervisor: list displays: %w", err)
	}
	if len(displays) == 0 {
		return fmt.Errorf("supervisor: no displays found")
	}

	log.Info("starting pipeline", "displays", len(displays), "fps", s.cfg.FPS)

	var wg sync.WaitGroup

	for _, display := range displays {
		display := display
		cmp := phash.NewComparator()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTask("capture:"+display.ID, func(taskCtx context.Context) {
				capture.RunStage(taskCtx, s.platform, display, capture.StageConfig{FPS: s.cfg.FPS}, cmp, s.captureQueue, s.Metrics, s.Health, s.capturePool)
			}, ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runTask("forwarder", func(taskCtx context.Context) {
			forwarder.RunStage(taskCtx, s.captureQueue, s.storageQueue)
		}, ctx)
	}()

	storageCfg := storage.StageConfig{
		DeploymentID:    s.cfg.DeploymentID,
		JPEGQuality:     s.cfg.JPEGQuality,
		DedupWindowSecs: s.cfg.DedupWindowSecs,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runTask("storage", func(taskCtx context.Context) {
			storage.RunStage(taskCtx, s.storageQueue, s.store, s.images, storageCfg, s.Metrics, s.storagePool)
		}, ctx)
	}()

	if s.cfg.MetricsLogInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Metrics.RunSummaryLogger(ctx, s.cfg.MetricsLogInterval, s.cfg.ChannelWarnThreshold)
		}()
	}

	if s.cfg.CleanupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runCleanupLoop(ctx)
		}()
	}

	<-ctx.Done()
	log.Info("shutdown signal received, waiting for pipeline tasks to stop")

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		log.Info("pipeline stopped cleanly")
	case <-time.After(taskShutdownTimeout):
		log.Warn("timed out waiting for pipeline tasks to stop", "timeout", taskShutdownTimeout)
	}

	poolCtx, poolCancel := context.WithTimeout(context.Background(), taskShutdownTimeout)
	defer poolCancel()
	s.capturePool.Shutdown(poolCtx)
	s.storagePool.Shutdown(poolCtx)

	return nil
}

// runTask logs entry/exit around a pipeline task so shutdown behavior is
// visible per-task in the log, matching the per-task accounting the
// disposition table expects during graceful shutdown.
func (s *Supervisor) runTask(name string, fn func(ctx context.Context), ctx context.Context) {
	log.Debug("task starting", "task", name)
	fn(ctx)
	log.Debug("task stopped", "task", name)
}

// runCleanupLoop periodically enforces retention on both the database and
// the image store. It runs once immediately so a freshly-started process
// doesn't wait a full interval before its first cleanup pass.
func (s *Supervisor) runCleanupLoop(ctx context.Context) {
	s.cleanupOnce(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOnce(ctx)
		}
	}
}

func (s *Supervisor) cleanupOnce(ctx context.Context) {
	if displays, err := s.platform.ListDisplays(); err == nil {
		ids := make([]string, len(displays))
		for i, d := range displays {
			ids[i] = d.ID
		}
		s.Health.Prune(ids)
	}

	rowsRemoved, err := s.store.CleanupOldData(ctx, s.cfg.RetentionDays)
	if err != nil {
		log.Error("database cleanup failed", "error", err)
	} else if rowsRemoved > 0 {
		log.Info("database cleanup complete", "rowsRemoved", rowsRemoved)
	}

	filesRemoved, err := s.images.CleanupOldImages(s.cfg.RetentionDays)
	if err != nil {
		log.Error("image cleanup failed", "error", err)
	} else if filesRemoved > 0 {
		log.Info("image cleanup complete", "filesRemoved", filesRemoved)
	}
}
