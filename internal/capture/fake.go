package capture

import (
	"image"
	"sync"
)

// FakePlatform is a deterministic, in-memory Platform for tests: each
// display's next frame is whatever was last pushed with SetFrame, so tests
// can script exact capture sequences (no-change, alternating, bursts)
// without touching the real screen.
type FakePlatform struct {
	mu       sync.Mutex
	displays []Display
	frames   map[int]image.Image
	captures map[int]int
	closed   bool
}

// NewFakePlatform creates a FakePlatform advertising the given displays.
func NewFakePlatform(displays ...Display) *FakePlatform {
	return &FakePlatform{
		displays: displays,
		frames:   make(map[int]image.Image),
		captures: make(map[int]int),
	}
}

// SetFrame sets the image Capture(idx) will return until changed again.
func (f *FakePlatform) SetFrame(idx int, img image.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[idx] = img
}

// CaptureCount returns how many times Capture(idx) has been called.
func (f *FakePlatform) CaptureCount(idx int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures[idx]
}

func (f *FakePlatform) ListDisplays() ([]Display, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Display, len(f.displays))
	copy(out, f.displays)
	return out, nil
}

func (f *FakePlatform) Capture(idx int) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	img, ok := f.frames[idx]
	if !ok {
		return nil, ErrDisplayNotFound
	}
	f.captures[idx]++
	return img, nil
}

func (f *FakePlatform) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
