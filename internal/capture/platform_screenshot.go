package capture

import (
	"fmt"
	"image"

	"github.com/vova616/screenshot"
)

// screenshotPlatform implements Platform on top of vova616/screenshot, which
// covers Windows (GDI), macOS (CGDisplayCreateImage) and Linux (X11) behind
// one cross-platform API.
type screenshotPlatform struct{}

// NewPlatform returns the default OS screen-capture backend.
func NewPlatform() (Platform, error) {
	return &screenshotPlatform{}, nil
}

func (p *screenshotPlatform) ListDisplays() ([]Display, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, fmt.Errorf("capture: no active displays found")
	}

	displays := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		displays = append(displays, Display{
			Index:     i,
			ID:        displayID(i),
			Name:      fmt.Sprintf("Display %d", i),
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
			X:         bounds.Min.X,
			Y:         bounds.Min.Y,
			IsPrimary: i == 0,
		})
	}
	return displays, nil
}

func (p *screenshotPlatform) Capture(idx int) (image.Image, error) {
	n := screenshot.NumActiveDisplays()
	if idx < 0 || idx >= n {
		return nil, ErrDisplayNotFound
	}

	img, err := screenshot.CaptureDisplay(idx)
	if err != nil {
		return nil, fmt.Errorf("capture: display %d: %w", idx, err)
	}
	return img, nil
}

func (p *screenshotPlatform) Close() error {
	return nil
}
