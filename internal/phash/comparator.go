package phash

import (
	"image"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/image/draw"
)

// DiffThreshold is the FrameDifference score below which two frames are
// considered duplicates by a stateful Comparator on the capture hot path.
const DiffThreshold = 0.006

// DedupHammingThreshold is the maximum Hamming distance between two
// average hashes for the storage layer to treat them as the same frame.
const DedupHammingThreshold = 10

// rasterDownscaleFactor shrinks a frame before hashing it for the identity
// early-exit check; a small nearest-neighbour thumbnail is enough to tell
// "pixel-for-pixel identical" apart from "changed" far cheaper than a full
// histogram/SSIM pass.
const rasterDownscaleFactor = 6

// Comparator tracks the previous frame seen for a single capture stream
// (one per display) and scores how much each new frame differs from it.
// Calls on one Comparator are serialized by an internal mutex; each
// display's capture stage owns its own Comparator.
type Comparator struct {
	mu          sync.Mutex
	havePrev    bool
	prevImage   image.Image
	prevRasterH uint64
}

// NewComparator creates a Comparator with no prior frame.
func NewComparator() *Comparator {
	return &Comparator{}
}

// Compare scores how different img is from the last frame passed to
// Compare. The first call on a fresh Comparator always returns 1.0 (maximum
// difference), since there is nothing to compare against yet. Feeding the
// same raster twice in a row returns exactly 0.0 via the raster-hash
// early-exit, without running the histogram/SSIM comparison.
func (c *Comparator) Compare(img image.Image) (float64, error) {
	diff, _, err := c.CompareDetailed(img)
	return diff, err
}

// CompareDetailed behaves like Compare but additionally reports whether the
// result came from the raster-hash identity short-circuit rather than a full
// histogram/SSIM pass, so callers can track exact-match hits separately from
// near-duplicate frames.
func (c *Comparator) CompareDetailed(img image.Image) (diff float64, identical bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rasterHash := rasterHash(img)

	if !c.havePrev {
		c.havePrev = true
		c.prevImage = img
		c.prevRasterH = rasterHash
		return 1.0, false, nil
	}

	if rasterHash == c.prevRasterH {
		c.prevImage = img
		c.prevRasterH = rasterHash
		return 0.0, true, nil
	}

	diff, err = FrameDifference(c.prevImage, img)
	c.prevImage = img
	c.prevRasterH = rasterHash
	if err != nil {
		return 0, false, err
	}
	return diff, false, nil
}

// rasterHash computes a fast non-cryptographic hash over a downscaled copy
// of img, used only for the identity early-exit in Compare.
func rasterHash(img image.Image) uint64 {
	b := img.Bounds()
	w := max(1, b.Dx()/rasterDownscaleFactor)
	h := max(1, b.Dy()/rasterDownscaleFactor)

	small := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(small, small.Bounds(), img, b, draw.Over, nil)

	return xxhash.Sum64(small.Pix)
}
