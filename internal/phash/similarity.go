package phash

import (
	"fmt"
	"image"
	"math"
)

// histogram256 returns a normalized 256-bin grayscale intensity histogram.
func histogram256(g *image.Gray) [256]float64 {
	var hist [256]float64
	for _, p := range g.Pix {
		hist[p]++
	}
	total := float64(len(g.Pix))
	if total == 0 {
		return hist
	}
	for i := range hist {
		hist[i] /= total
	}
	return hist
}

// HistogramDistance returns the Hellinger distance between the grayscale
// intensity histograms of a and b, in [0, 1]; 0 means identical
// distributions.
func HistogramDistance(a, b image.Image) float64 {
	ha := histogram256(toGray(a))
	hb := histogram256(toGray(b))

	var sum float64
	for i := range ha {
		d := math.Sqrt(ha[i]) - math.Sqrt(hb[i])
		sum += d * d
	}
	return math.Sqrt(sum) / math.Sqrt2
}

// ssimConstants follow the standard SSIM paper defaults for 8-bit images.
const (
	ssimK1 = 0.01
	ssimK2 = 0.03
	ssimL  = 255.0
)

var (
	ssimC1 = (ssimK1 * ssimL) * (ssimK1 * ssimL)
	ssimC2 = (ssimK2 * ssimL) * (ssimK2 * ssimL)
)

// SSIM computes a single-window structural similarity index between two
// equally-sized grayscale images, in [-1, 1]; 1 means identical. This is a
// whole-image approximation of windowed SSIM, adequate for deciding whether
// a screen region changed rather than for image-quality benchmarking.
func SSIM(a, b image.Image) (float64, error) {
	ga, gb := toGray(a), toGray(b)
	if ga.Bounds() != gb.Bounds() {
		return 0, fmt.Errorf("phash: images had different dimensions: %v vs %v", ga.Bounds(), gb.Bounds())
	}

	n := float64(len(ga.Pix))
	if n == 0 {
		return 1, nil
	}

	var sumA, sumB float64
	for i := range ga.Pix {
		sumA += float64(ga.Pix[i])
		sumB += float64(gb.Pix[i])
	}
	meanA, meanB := sumA/n, sumB/n

	var varA, varB, covAB float64
	for i := range ga.Pix {
		da := float64(ga.Pix[i]) - meanA
		db := float64(gb.Pix[i]) - meanB
		varA += da * da
		varB += db * db
		covAB += da * db
	}
	varA /= n
	varB /= n
	covAB /= n

	numerator := (2*meanA*meanB + ssimC1) * (2*covAB + ssimC2)
	denominator := (meanA*meanA + meanB*meanB + ssimC1) * (varA + varB + ssimC2)
	if denominator == 0 {
		return 1, nil
	}
	return numerator / denominator, nil
}

// FrameDifference blends histogram distance and (1 - SSIM) into a single
// difference score where 0.0 means identical and larger values mean more
// different. Both inputs must have equal dimensions for SSIM to apply.
func FrameDifference(a, b image.Image) (float64, error) {
	histDiff := HistogramDistance(a, b)
	ssim, err := SSIM(a, b)
	if err != nil {
		return 0, err
	}
	return (histDiff + (1 - ssim)) / 2, nil
}
