package supervisor

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/haloframe/screenlogd/internal/capture"
	"github.com/haloframe/screenlogd/internal/storage"
)

func solidImage(level uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: level})
		}
	}
	return img
}

func checkeredImage(tile int) image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if ((x/tile)+(y/tile))%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 20})
			} else {
				img.SetGray(x, y, color.Gray{Y: 235})
			}
		}
	}
	return img
}

func testDisplay() capture.Display {
	return capture.Display{Index: 0, ID: "display-0", Name: "primary", Width: 32, Height: 32, IsPrimary: true}
}

func newTestSupervisor(t *testing.T, platform *capture.FakePlatform) (*Supervisor, storage.Storage, storage.ImageStore) {
	t.Helper()
	store := storage.NewMemStore()
	images, err := storage.NewFileImageStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileImageStore: %v", err)
	}

	cfg := Config{
		FPS:                    100,
		DeploymentID:           "dep-test",
		JPEGQuality:            80,
		DedupWindowSecs:        10,
		CaptureChannelCapacity: 16,
		StorageChannelCapacity: 16,
	}
	return New(cfg, platform, store, images), store, images
}

func TestRunNoChangeSceneStoresOnlyFirstFrame(t *testing.T) {
	platform := capture.NewFakePlatform(testDisplay())
	platform.SetFrame(0, solidImage(128))
	sup, store, _ := newTestSupervisor(t, platform)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := sup.Metrics.Snapshot()
	if snap.FramesCaptured == 0 {
		t.Fatal("expected at least one capture")
	}
	if snap.FramesStored != 1 {
		t.Fatalf("FramesStored = %d, want 1 (only the first frame) for an unchanging scene", snap.FramesStored)
	}

	stats, err := store.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalFrames != 1 {
		t.Fatalf("store has %d frames, want 1", stats.TotalFrames)
	}
}

func TestRunAlternatingSceneStoresChangedFrames(t *testing.T) {
	platform := capture.NewFakePlatform(testDisplay())
	platform.SetFrame(0, solidImage(0))
	sup, store, _ := newTestSupervisor(t, platform)

	stop := make(chan struct{})
	go func() {
		toggle := false
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if toggle {
					platform.SetFrame(0, solidImage(0))
				} else {
					platform.SetFrame(0, checkeredImage(4))
				}
				toggle = !toggle
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := sup.Run(ctx)
	close(stop)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := sup.Metrics.Snapshot()
	if snap.FramesStored == 0 {
		t.Fatal("expected at least one stored frame for an alternating scene")
	}

	stats, err := store.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalFrames == 0 {
		t.Fatal("expected the store to contain at least one frame")
	}
}

func TestRunNoDisplaysReturnsError(t *testing.T) {
	platform := capture.NewFakePlatform()
	sup, _, _ := newTestSupervisor(t, platform)

	err := sup.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error when no displays are available")
	}
}

func TestCleanupOnceRemovesExpiredData(t *testing.T) {
	platform := capture.NewFakePlatform(testDisplay())
	sup, store, _ := newTestSupervisor(t, platform)
	sup.cfg.RetentionDays = 1

	if _, err := store.InsertFrame(context.Background(), time.Now().AddDate(0, 0, -10), "dep-test", "", "", "old.jpg", 10, 1); err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}
	if _, err := store.InsertFrame(context.Background(), time.Now(), "dep-test", "", "", "new.jpg", 10, 2); err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	sup.cleanupOnce(context.Background())

	stats, err := store.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalFrames != 1 {
		t.Fatalf("TotalFrames = %d, want 1 after cleanup", stats.TotalFrames)
	}
}

func TestRunGracefulShutdownDrainsQueuedFrames(t *testing.T) {
	platform := capture.NewFakePlatform(testDisplay())
	platform.SetFrame(0, solidImage(64))
	sup, store, _ := newTestSupervisor(t, platform)

	// Pre-fill the storage queue directly, bypassing capture/forwarder, to
	// exercise the drain path deterministically instead of racing a ticker.
	for i := 0; i < 3; i++ {
		sup.storageQueue <- storage.Envelope{
			DisplayID:  "display-0",
			Image:      solidImage(uint8(i + 1)),
			PHash:      int64(0xFFFF) << (16 * i), // pairwise 32 bits apart: never DB duplicates
			CapturedAt: time.Now(),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Give the storage task a moment to start pulling from the queue, then
	// cancel. Frames it already took are stored on the normal path and the
	// rest on the drain path; either way all three must be persisted.
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	stats, err := store.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalFrames != 3 {
		t.Fatalf("TotalFrames = %d, want 3 (drain should persist all pre-queued frames)", stats.TotalFrames)
	}
}
