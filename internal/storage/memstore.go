package storage

import (
	"context"
	"math/bits"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haloframe/screenlogd/internal/phash"
)

// MemStore is an in-memory Storage used by tests that need a Storage
// without a real database.
type MemStore struct {
	mu     sync.Mutex
	frames map[uuid.UUID]*FrameWithContext
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{frames: make(map[uuid.UUID]*FrameWithContext)}
}

func (m *MemStore) IsDuplicate(_ context.Context, frameHash int64, windowSecs int) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	for id, f := range m.frames {
		if f.CapturedAt.Before(since) {
			continue
		}
		if bits.OnesCount64(uint64(frameHash^f.PHash)) <= phash.DedupHammingThreshold {
			return id, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (m *MemStore) InsertFrame(_ context.Context, capturedAt time.Time, deploymentID, windowTitle, appName, imageRef string, imageSizeBytes, frameHash int64) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	m.frames[id] = &FrameWithContext{
		ID:             id,
		CapturedAt:     capturedAt,
		DeploymentID:   deploymentID,
		WindowTitle:    windowTitle,
		AppName:        appName,
		ImageRef:       imageRef,
		ImageSizeBytes: imageSizeBytes,
		PHash:          frameHash,
	}
	return id, nil
}

func (m *MemStore) GetRecentFrames(_ context.Context, limit, offset int) ([]FrameWithContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.sortedByTimeDescLocked()
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) || limit <= 0 {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemStore) SearchText(_ context.Context, query string, limit int) ([]FrameWithContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FrameWithContext
	for _, f := range m.sortedByTimeDescLocked() {
		if strings.Contains(f.OCRText, query) {
			out = append(out, f)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) SearchByTime(_ context.Context, start, end time.Time) ([]FrameWithContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FrameWithContext
	for _, f := range m.frames {
		if !f.CapturedAt.Before(start) && !f.CapturedAt.After(end) {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *MemStore) SearchByApp(_ context.Context, appName string, limit int) ([]FrameWithContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FrameWithContext
	for _, f := range m.sortedByTimeDescLocked() {
		if f.AppName == appName {
			out = append(out, f)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) GetAppStats(_ context.Context, start, end time.Time) ([]AppStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byApp := make(map[string]*AppStats)
	for _, f := range m.frames {
		if f.AppName == "" || f.CapturedAt.Before(start) || f.CapturedAt.After(end) {
			continue
		}
		stat, ok := byApp[f.AppName]
		if !ok {
			stat = &AppStats{AppName: f.AppName, FirstSeen: f.CapturedAt, LastSeen: f.CapturedAt}
			byApp[f.AppName] = stat
		}
		stat.FrameCount++
		if f.CapturedAt.Before(stat.FirstSeen) {
			stat.FirstSeen = f.CapturedAt
		}
		if f.CapturedAt.After(stat.LastSeen) {
			stat.LastSeen = f.CapturedAt
		}
	}

	out := make([]AppStats, 0, len(byApp))
	for _, stat := range byApp {
		stat.TotalSeconds = int64(stat.LastSeen.Sub(stat.FirstSeen).Seconds())
		out = append(out, *stat)
	}
	return out, nil
}

func (m *MemStore) CleanupOldData(_ context.Context, retentionDays int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var removed int64
	for id, f := range m.frames {
		if f.CapturedAt.Before(cutoff) {
			delete(m.frames, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemStore) GetStats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Stats
	for _, f := range m.frames {
		stats.TotalFrames++
		stats.TotalImageBytes += f.ImageSizeBytes
		if f.HasText {
			stats.FramesWithOCR++
		}
	}
	return stats, nil
}

func (m *MemStore) SetFrameHasText(_ context.Context, frameID uuid.UUID, hasText bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.frames[frameID]; ok {
		f.HasText = hasText
	}
	return nil
}

func (m *MemStore) InsertOCRText(_ context.Context, frameID uuid.UUID, text string, confidence float32, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.frames[frameID]; ok {
		f.OCRText = text
		f.OCRConfidence = confidence
		f.HasText = true
	}
	return nil
}

func (m *MemStore) InsertWindowContext(_ context.Context, frameID uuid.UUID, appName, windowTitle, _ string, _ bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.frames[frameID]; ok {
		f.AppName = appName
		f.WindowTitle = windowTitle
	}
	return nil
}

func (m *MemStore) GetFramesPendingVision(_ context.Context, limit int) ([]FrameWithContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FrameWithContext
	for _, f := range m.sortedByTimeDescLocked() {
		if f.VisionStatus == VisionPending {
			out = append(out, f)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) UpdateVisionSummary(_ context.Context, frameID uuid.UUID, summary string, status VisionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.frames[frameID]; ok {
		f.VisionSummary = summary
		f.VisionStatus = status
	}
	return nil
}

func (m *MemStore) Close() error { return nil }

// sortedByTimeDescLocked returns all frames newest-first. Callers must hold m.mu.
func (m *MemStore) sortedByTimeDescLocked() []FrameWithContext {
	out := make([]FrameWithContext, 0, len(m.frames))
	for _, f := range m.frames {
		out = append(out, *f)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CapturedAt.After(out[j-1].CapturedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
