// Package capture runs one capture stage per display: on each tick it grabs
// a screenshot, scores it against the previous frame from that display with
// a phash.Comparator, and forwards frames that changed enough onto a bounded
// queue for the forwarder stage. Frames that look the same as the last one
// are dropped here, before any encoding or disk I/O happens.
package capture

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrNotSupported is returned by a Platform when screen capture is not
// available on the current OS/build.
var ErrNotSupported = errors.New("capture: screen capture not supported on this platform")

// ErrDisplayNotFound is returned when a display index no longer exists,
// e.g. a monitor was unplugged between ListDisplays and Capture.
var ErrDisplayNotFound = errors.New("capture: display not found")

// Display describes one capturable screen output.
type Display struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	IsPrimary bool   `json:"isPrimary"`
}

// RawFrame is one captured screenshot on its way to the forwarder stage,
// already carrying the average hash computed by the capture stage.
type RawFrame struct {
	DisplayID  string
	Image      image.Image
	PHash      uint64
	CapturedAt time.Time
}

// Platform abstracts screen enumeration and capture so the capture stage can
// run against a real OS backend or a deterministic fake in tests.
type Platform interface {
	// ListDisplays enumerates the currently connected displays.
	ListDisplays() ([]Display, error)
	// Capture grabs the current contents of the display at index idx.
	Capture(idx int) (image.Image, error)
	// Close releases any resources held by the platform backend.
	Close() error
}

// displayID builds the stable identifier used to key per-display state
// (comparators, health checks, log fields) from its enumeration index.
func displayID(idx int) string {
	return fmt.Sprintf("display-%d", idx)
}
