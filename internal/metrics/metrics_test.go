package metrics

import (
	"context"
	"testing"
	"time"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()

	m.IncFramesCaptured()
	m.IncFramesCaptured()
	m.IncFramesDedupedMemory()
	m.IncFramesDedupedDB()
	m.IncFramesStored()
	m.IncFramesFailed()
	m.IncHashHits()

	snap := m.Snapshot()
	if snap.FramesCaptured != 2 {
		t.Fatalf("FramesCaptured = %d, want 2", snap.FramesCaptured)
	}
	if snap.FramesDedupedMemory != 1 {
		t.Fatalf("FramesDedupedMemory = %d, want 1", snap.FramesDedupedMemory)
	}
	if snap.FramesDedupedDB != 1 {
		t.Fatalf("FramesDedupedDB = %d, want 1", snap.FramesDedupedDB)
	}
	if snap.FramesStored != 1 {
		t.Fatalf("FramesStored = %d, want 1", snap.FramesStored)
	}
	if snap.FramesFailed != 1 {
		t.Fatalf("FramesFailed = %d, want 1", snap.FramesFailed)
	}
	if snap.HashHits != 1 {
		t.Fatalf("HashHits = %d, want 1", snap.HashHits)
	}
	if snap.DeploymentID == "" {
		t.Fatal("expected non-empty DeploymentID")
	}
}

func TestRegisteredQueueReportedInSnapshot(t *testing.T) {
	m := New()
	m.RegisterQueue("capture", func() (int, int) { return 5, 64 })

	snap := m.Snapshot()
	if snap.QueueDepths["capture"] != 5 {
		t.Fatalf("QueueDepths[capture] = %d, want 5", snap.QueueDepths["capture"])
	}
	if snap.QueueCapacities["capture"] != 64 {
		t.Fatalf("QueueCapacities[capture] = %d, want 64", snap.QueueCapacities["capture"])
	}
}

func TestRunSummaryLoggerStopsOnCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.RunSummaryLogger(ctx, 5*time.Millisecond, 0.8)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSummaryLogger did not stop after context cancellation")
	}
}
