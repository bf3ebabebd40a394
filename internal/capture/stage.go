package capture

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/haloframe/screenlogd/internal/health"
	"github.com/haloframe/screenlogd/internal/logging"
	"github.com/haloframe/screenlogd/internal/metrics"
	"github.com/haloframe/screenlogd/internal/phash"
	"github.com/haloframe/screenlogd/internal/workerpool"
)

var log = logging.L("capture")

// StageConfig holds the knobs a capture stage needs beyond the display and
// queue it was built for.
type StageConfig struct {
	FPS float64
}

// RunStage drives one display's capture loop until ctx is cancelled: on each
// tick it captures a frame, scores it against the previous one with cmp, and
// either drops it (no meaningful change) or offers it to out. out is
// bounded; when it is full the new frame is dropped rather than blocking the
// capture tick, so a slow downstream never stalls screen capture.
func RunStage(
	ctx context.Context,
	platform Platform,
	display Display,
	cfg StageConfig,
	cmp *phash.Comparator,
	out chan<- RawFrame,
	m *metrics.Metrics,
	h *health.Monitor,
	pool *workerpool.Pool,
) {
	interval := time.Second
	if cfg.FPS > 0 {
		interval = time.Duration(float64(time.Second) / cfg.FPS)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	displayLog := logging.WithDisplay(log, display.ID)
	displayLog.Info("capture stage starting", "fps", cfg.FPS, "width", display.Width, "height", display.Height)
	h.Update(display.ID, health.Healthy, "")

	for {
		select {
		case <-ctx.Done():
			displayLog.Info("capture stage stopping")
			return
		case <-ticker.C:
			captureOnce(platform, display, cfg, cmp, out, m, h, pool, displayLog)
		}
	}
}

// captureAndCompareResult is the outcome of one capture+compare cycle, run
// on the worker pool so a slow screenshot syscall or an expensive SSIM pass
// on one display never delays the other displays' capture ticks.
type captureAndCompareResult struct {
	img         image.Image
	captureErr  error
	diff        float64
	identical   bool
	comparedErr error
}

func captureOnce(
	platform Platform,
	display Display,
	cfg StageConfig,
	cmp *phash.Comparator,
	out chan<- RawFrame,
	m *metrics.Metrics,
	h *health.Monitor,
	pool *workerpool.Pool,
	displayLog *slog.Logger,
) {
	res, accepted := workerpool.Offload(pool, func() captureAndCompareResult {
		img, err := platform.Capture(display.Index)
		if err != nil {
			return captureAndCompareResult{captureErr: err}
		}
		diff, identical, cerr := cmp.CompareDetailed(img)
		return captureAndCompareResult{img: img, diff: diff, identical: identical, comparedErr: cerr}
	})
	if !accepted {
		displayLog.Warn("worker pool rejected capture task, skipping this tick")
		return
	}

	if res.captureErr != nil {
		m.IncFramesFailed()
		h.Update(display.ID, health.Degraded, res.captureErr.Error())
		displayLog.Warn("capture failed", "error", res.captureErr)
		return
	}

	h.Update(display.ID, health.Healthy, "")

	img := res.img
	if res.comparedErr != nil {
		// Dimension mismatch or similar comparison failure: fail open and
		// forward the frame rather than silently dropping real changes.
		displayLog.Warn("frame comparison failed, forwarding frame", "error", res.comparedErr)
	} else if res.identical {
		m.IncHashHits()
		m.IncFramesDedupedMemory()
		return
	} else if res.diff < phash.DiffThreshold {
		m.IncFramesDedupedMemory()
		return
	}

	// Only frames that survive memory dedup pay for the average hash, and
	// only those count toward frames_captured.
	hash, accepted := workerpool.Offload(pool, func() uint64 {
		return phash.Hash64(img)
	})
	if !accepted {
		displayLog.Warn("worker pool rejected hash task, dropping frame")
		return
	}

	m.IncFramesCaptured()

	frame := RawFrame{
		DisplayID:  display.ID,
		Image:      img,
		PHash:      hash,
		CapturedAt: time.Now().UTC(),
	}

	select {
	case out <- frame:
	default:
		displayLog.Warn("capture queue full, dropping frame")
	}
}
