// Package phash implements the perceptual-hash and similarity primitives
// the capture stage uses to decide whether a new frame differs enough from
// the previous one to be worth storing: a 64-bit average hash for cheap
// database-side duplicate lookups, and a histogram+SSIM blend for the
// in-memory frame-to-frame comparison on the capture hot path.
package phash

import (
	"image"
	"image/color"
	"math/bits"

	"golang.org/x/image/draw"
)

// hashSize is the side length of the grayscale thumbnail the average hash
// is computed over (8x8 = 64 bits, one per pixel).
const hashSize = 8

// Hash64 computes a 64-bit average hash: the source image is converted to
// grayscale, resized to an 8x8 thumbnail, and each pixel is compared
// against the thumbnail's mean intensity to produce one bit.
func Hash64(img image.Image) uint64 {
	thumb := image.NewGray(image.Rect(0, 0, hashSize, hashSize))
	draw.BiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Over, nil)

	var sum uint64
	for _, p := range thumb.Pix {
		sum += uint64(p)
	}
	avg := uint8(sum / uint64(hashSize*hashSize))

	var bitsOut uint64
	for i, p := range thumb.Pix {
		if p >= avg {
			bitsOut |= 1 << uint(i)
		}
	}
	return bitsOut
}

// Hamming returns the number of differing bits between two hashes.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Prefix extracts the top 16 bits of a hash as a signed integer, used as an
// index for fast candidate filtering before a full Hamming comparison.
func Prefix(h uint64) int16 {
	return int16((h >> 48) & 0xFFFF)
}

// toGray converts an arbitrary image.Image to *image.Gray, since the
// histogram and SSIM routines below both operate on single-channel
// intensity data.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}
