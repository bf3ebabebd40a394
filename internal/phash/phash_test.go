package phash

import (
	"image"
	"image/color"
	"testing"
)

// checkerboard builds a deterministic w x h grayscale test image with a
// tile pattern, so resizing and hashing behave predictably across runs.
func checkerboard(w, h, tile int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/tile)+(y/tile))%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 230})
			} else {
				img.SetGray(x, y, color.Gray{Y: 20})
			}
		}
	}
	return img
}

func solidGray(w, h int, level uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

func TestHash64IsDeterministic(t *testing.T) {
	img := checkerboard(64, 64, 8)
	h1 := Hash64(img)
	h2 := Hash64(img)
	if h1 != h2 {
		t.Fatalf("Hash64 not deterministic: %x vs %x", h1, h2)
	}
}

func TestHammingIdentity(t *testing.T) {
	img := checkerboard(64, 64, 8)
	h := Hash64(img)
	if d := Hamming(h, h); d != 0 {
		t.Fatalf("Hamming(h, h) = %d, want 0", d)
	}
}

func TestHammingAllBitsDiffer(t *testing.T) {
	if d := Hamming(0, ^uint64(0)); d != 64 {
		t.Fatalf("Hamming(0, ^0) = %d, want 64", d)
	}
}

func TestHammingPartialDifference(t *testing.T) {
	if d := Hamming(0xF0, 0x0F); d != 8 {
		t.Fatalf("Hamming(0xF0, 0x0F) = %d, want 8", d)
	}
}

func TestPrefixExtractsTopBits(t *testing.T) {
	h := uint64(0xABCD_1234_5678_9EF0)
	want := int16(-0x5433) // 0xABCD as a signed 16-bit value
	if got := Prefix(h); got != want {
		t.Fatalf("Prefix(%#x) = %#x, want %#x", h, uint16(got), uint16(want))
	}
}

func TestHistogramDistanceIdenticalIsZero(t *testing.T) {
	img := checkerboard(32, 32, 4)
	d := HistogramDistance(img, img)
	if d > 1e-9 {
		t.Fatalf("HistogramDistance(img, img) = %v, want ~0", d)
	}
}

func TestHistogramDistanceDiffersForDistinctDistributions(t *testing.T) {
	a := solidGray(16, 16, 0)
	b := solidGray(16, 16, 255)
	d := HistogramDistance(a, b)
	if d < 0.9 {
		t.Fatalf("HistogramDistance(black, white) = %v, want close to 1", d)
	}
}

func TestSSIMIdenticalImagesIsOne(t *testing.T) {
	img := checkerboard(32, 32, 4)
	s, err := SSIM(img, img)
	if err != nil {
		t.Fatalf("SSIM returned error: %v", err)
	}
	if s < 0.999 {
		t.Fatalf("SSIM(img, img) = %v, want ~1", s)
	}
}

func TestSSIMRejectsMismatchedDimensions(t *testing.T) {
	a := solidGray(16, 16, 100)
	b := solidGray(32, 32, 100)
	if _, err := SSIM(a, b); err == nil {
		t.Fatal("expected error for mismatched dimensions, got nil")
	}
}

func TestFrameDifferenceIdenticalIsNearZero(t *testing.T) {
	img := checkerboard(32, 32, 4)
	d, err := FrameDifference(img, img)
	if err != nil {
		t.Fatalf("FrameDifference returned error: %v", err)
	}
	if d > 1e-6 {
		t.Fatalf("FrameDifference(img, img) = %v, want ~0", d)
	}
}

func TestFrameDifferenceDistinctImagesIsLarge(t *testing.T) {
	a := solidGray(32, 32, 0)
	b := solidGray(32, 32, 255)
	d, err := FrameDifference(a, b)
	if err != nil {
		t.Fatalf("FrameDifference returned error: %v", err)
	}
	if d < 0.4 {
		t.Fatalf("FrameDifference(black, white) = %v, want large", d)
	}
}

func TestComparatorFirstFrameReturnsMaxDifference(t *testing.T) {
	c := NewComparator()
	img := checkerboard(32, 32, 4)

	d, err := c.Compare(img)
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if d != 1.0 {
		t.Fatalf("first Compare() = %v, want 1.0", d)
	}
}

func TestComparatorIdenticalFrameShortCircuitsToZero(t *testing.T) {
	c := NewComparator()
	img := checkerboard(32, 32, 4)

	if _, err := c.Compare(img); err != nil {
		t.Fatalf("first Compare returned error: %v", err)
	}

	same := checkerboard(32, 32, 4)
	d, err := c.Compare(same)
	if err != nil {
		t.Fatalf("second Compare returned error: %v", err)
	}
	if d != 0.0 {
		t.Fatalf("Compare(identical raster) = %v, want exactly 0", d)
	}
}

func TestComparatorDistinctFramesFallThroughToFrameDifference(t *testing.T) {
	c := NewComparator()
	black := solidGray(32, 32, 0)
	white := solidGray(32, 32, 255)

	if _, err := c.Compare(black); err != nil {
		t.Fatalf("first Compare returned error: %v", err)
	}

	d, err := c.Compare(white)
	if err != nil {
		t.Fatalf("second Compare returned error: %v", err)
	}
	if d <= DiffThreshold {
		t.Fatalf("Compare(black, white) = %v, want greater than threshold %v", d, DiffThreshold)
	}
}

func TestComparatorTracksMostRecentFrame(t *testing.T) {
	c := NewComparator()
	a := solidGray(32, 32, 0)
	b := solidGray(32, 32, 255)

	if _, err := c.Compare(a); err != nil {
		t.Fatalf("Compare(a) returned error: %v", err)
	}
	if _, err := c.Compare(b); err != nil {
		t.Fatalf("Compare(b) returned error: %v", err)
	}

	d, err := c.Compare(b)
	if err != nil {
		t.Fatalf("Compare(b) again returned error: %v", err)
	}
	if d != 0.0 {
		t.Fatalf("Compare(b) repeated = %v, want 0 since previous frame is now b", d)
	}
}
