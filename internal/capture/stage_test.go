package capture

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/haloframe/screenlogd/internal/health"
	"github.com/haloframe/screenlogd/internal/metrics"
	"github.com/haloframe/screenlogd/internal/phash"
	"github.com/haloframe/screenlogd/internal/workerpool"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPool() *workerpool.Pool {
	return workerpool.New(2, 8)
}

func solidFrame(w, h int, level uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

func checkeredFrame(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 240})
			} else {
				img.SetGray(x, y, color.Gray{Y: 10})
			}
		}
	}
	return img
}

func testDisplay() Display {
	return Display{Index: 0, ID: "display-0", Name: "Test", Width: 32, Height: 32, IsPrimary: true}
}

func TestCaptureOnceForwardsFirstFrame(t *testing.T) {
	disp := testDisplay()
	platform := NewFakePlatform(disp)
	platform.SetFrame(0, checkeredFrame(32, 32))

	m := metrics.New()
	h := health.NewMonitor()
	cmp := phash.NewComparator()
	out := make(chan RawFrame, 4)

	captureOnce(platform, disp, StageConfig{FPS: 1}, cmp, out, m, h, testPool(), noopLogger())

	select {
	case frame := <-out:
		if frame.DisplayID != disp.ID {
			t.Fatalf("DisplayID = %q, want %q", frame.DisplayID, disp.ID)
		}
	default:
		t.Fatal("expected first frame to be forwarded")
	}

	snap := m.Snapshot()
	if snap.FramesCaptured != 1 {
		t.Fatalf("FramesCaptured = %d, want 1", snap.FramesCaptured)
	}
}

func TestCaptureOnceDropsUnchangedFrame(t *testing.T) {
	disp := testDisplay()
	platform := NewFakePlatform(disp)
	frame := checkeredFrame(32, 32)
	platform.SetFrame(0, frame)

	m := metrics.New()
	h := health.NewMonitor()
	cmp := phash.NewComparator()
	out := make(chan RawFrame, 4)

	captureOnce(platform, disp, StageConfig{FPS: 1}, cmp, out, m, h, testPool(), noopLogger())
	<-out // drain the first (always-forwarded) frame

	captureOnce(platform, disp, StageConfig{FPS: 1}, cmp, out, m, h, testPool(), noopLogger())

	select {
	case <-out:
		t.Fatal("expected unchanged second frame to be deduped, not forwarded")
	default:
	}

	snap := m.Snapshot()
	if snap.FramesDedupedMemory != 1 {
		t.Fatalf("FramesDedupedMemory = %d, want 1", snap.FramesDedupedMemory)
	}
	if snap.HashHits != 1 {
		t.Fatalf("HashHits = %d, want 1", snap.HashHits)
	}
	if snap.FramesCaptured != 1 {
		t.Fatalf("FramesCaptured = %d, want 1 (the deduped frame must not count)", snap.FramesCaptured)
	}
}

func TestCaptureOnceForwardsChangedFrame(t *testing.T) {
	disp := testDisplay()
	platform := NewFakePlatform(disp)
	platform.SetFrame(0, solidFrame(32, 32, 0))

	m := metrics.New()
	h := health.NewMonitor()
	cmp := phash.NewComparator()
	out := make(chan RawFrame, 4)

	captureOnce(platform, disp, StageConfig{FPS: 1}, cmp, out, m, h, testPool(), noopLogger())
	<-out

	platform.SetFrame(0, solidFrame(32, 32, 255))
	captureOnce(platform, disp, StageConfig{FPS: 1}, cmp, out, m, h, testPool(), noopLogger())

	select {
	case <-out:
	default:
		t.Fatal("expected changed frame to be forwarded")
	}
}

func TestCaptureOnceDropsOnFullQueue(t *testing.T) {
	disp := testDisplay()
	platform := NewFakePlatform(disp)
	platform.SetFrame(0, solidFrame(32, 32, 0))

	m := metrics.New()
	h := health.NewMonitor()
	cmp := phash.NewComparator()
	out := make(chan RawFrame) // unbuffered and nobody is reading: always full

	captureOnce(platform, disp, StageConfig{FPS: 1}, cmp, out, m, h, testPool(), noopLogger())

	snap := m.Snapshot()
	if snap.FramesCaptured != 1 {
		t.Fatalf("FramesCaptured = %d, want 1", snap.FramesCaptured)
	}
	// The first frame is always a forward attempt (diff=1.0); with nobody
	// reading, it must be dropped rather than blocking captureOnce.
}

func TestCaptureOnceRecordsFailureOnCaptureError(t *testing.T) {
	disp := testDisplay()
	platform := NewFakePlatform(disp) // no frame set: Capture returns ErrDisplayNotFound

	m := metrics.New()
	h := health.NewMonitor()
	cmp := phash.NewComparator()
	out := make(chan RawFrame, 4)

	captureOnce(platform, disp, StageConfig{FPS: 1}, cmp, out, m, h, testPool(), noopLogger())

	snap := m.Snapshot()
	if snap.FramesFailed != 1 {
		t.Fatalf("FramesFailed = %d, want 1", snap.FramesFailed)
	}
	check, ok := h.Get(disp.ID)
	if !ok || check.Status != health.Degraded {
		t.Fatalf("health status = %+v, want Degraded", check)
	}
}

func TestRunStageStopsOnContextCancel(t *testing.T) {
	disp := testDisplay()
	platform := NewFakePlatform(disp)
	platform.SetFrame(0, solidFrame(8, 8, 0))

	m := metrics.New()
	h := health.NewMonitor()
	cmp := phash.NewComparator()
	out := make(chan RawFrame, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunStage(ctx, platform, disp, StageConfig{FPS: 200}, cmp, out, m, h, testPool())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunStage did not stop after context cancellation")
	}
}
