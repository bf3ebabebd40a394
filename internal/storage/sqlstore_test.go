package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "screenlogd.db")
	store, err := OpenSQLStore(dsn)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertAndGetRecentFrames(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertFrame(ctx, time.Now(), "dep-1", "Terminal", "iterm2", "2026-01-01/a.jpg", 1024, 0x1111)
	if err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	frames, err := store.GetRecentFrames(ctx, 10, 0)
	if err != nil {
		t.Fatalf("GetRecentFrames: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].ID != id {
		t.Fatalf("ID = %v, want %v", frames[0].ID, id)
	}
	if frames[0].AppName != "iterm2" {
		t.Fatalf("AppName = %q, want iterm2", frames[0].AppName)
	}
}

func TestIsDuplicateWithinHammingThreshold(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const base int64 = 0x0F0F0F0F0F0F0F0F
	if _, err := store.InsertFrame(ctx, time.Now(), "dep-1", "", "", "ref.jpg", 10, base); err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	// Flip a handful of low bits: within the dedup Hamming threshold.
	near := base ^ 0x3F
	_, dup, err := store.IsDuplicate(ctx, near, 60)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("expected a duplicate match for a near hash")
	}
}

func TestIsDuplicateOutsideHammingThresholdIsNotDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const base int64 = 0x0000000000000000
	if _, err := store.InsertFrame(ctx, time.Now(), "dep-1", "", "", "ref.jpg", 10, base); err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	far := int64(-1) // all 64 bits differ
	_, dup, err := store.IsDuplicate(ctx, far, 60)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("expected no duplicate match for a maximally different hash")
	}
}

func TestIsDuplicateOutsideWindowIsNotDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	if _, err := store.InsertFrame(ctx, old, "dep-1", "", "", "ref.jpg", 10, 0x1234); err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	_, dup, err := store.IsDuplicate(ctx, 0x1234, 5) // 5s window, frame is an hour old
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("expected frame outside the dedup window to not be reported as duplicate")
	}
}

func TestCleanupOldDataRemovesOnlyExpiredRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.InsertFrame(ctx, time.Now().AddDate(0, 0, -10), "dep-1", "", "", "old.jpg", 10, 1)
	if err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}
	newID, err := store.InsertFrame(ctx, time.Now(), "dep-1", "", "", "new.jpg", 10, 2)
	if err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	removed, err := store.CleanupOldData(ctx, 5)
	if err != nil {
		t.Fatalf("CleanupOldData: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	frames, err := store.GetRecentFrames(ctx, 10, 0)
	if err != nil {
		t.Fatalf("GetRecentFrames: %v", err)
	}
	if len(frames) != 1 || frames[0].ID != newID {
		t.Fatalf("expected only the new frame %v to survive, got %+v", newID, frames)
	}
}

func TestOCRAndWindowContextRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertFrame(ctx, time.Now(), "dep-1", "", "", "ref.jpg", 10, 42)
	if err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	if err := store.InsertOCRText(ctx, id, "hello world", 0.95, "en", ""); err != nil {
		t.Fatalf("InsertOCRText: %v", err)
	}
	if err := store.InsertWindowContext(ctx, id, "Slack", "general channel", "slack", true, ""); err != nil {
		t.Fatalf("InsertWindowContext: %v", err)
	}

	frames, err := store.SearchText(ctx, "hello", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].AppName != "Slack" {
		t.Fatalf("AppName = %q, want Slack", frames[0].AppName)
	}
	if !frames[0].HasText {
		t.Fatal("expected HasText to be true after InsertOCRText")
	}
}

func TestGetStatsAggregates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertFrame(ctx, time.Now(), "dep-1", "", "", "a.jpg", 100, 1); err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}
	if _, err := store.InsertFrame(ctx, time.Now(), "dep-1", "", "", "b.jpg", 200, 2); err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalFrames != 2 {
		t.Fatalf("TotalFrames = %d, want 2", stats.TotalFrames)
	}
	if stats.TotalImageBytes != 300 {
		t.Fatalf("TotalImageBytes = %d, want 300", stats.TotalImageBytes)
	}
}
