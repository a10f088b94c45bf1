// Package analyzer inspects raw image bytes and recommends
// compression settings. The pipeline uses it to pre-select a format
// and quality when the caller asked for automatic behavior, and to
// recognize assets that were already optimized by an earlier build.
package analyzer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"asset-optimizer-go/internal/codec"
)

// Analysis summarizes an image's characteristics and the recommended
// compression strategy.
type Analysis struct {
	Width              int
	Height             int
	Format             codec.Format
	HasAlpha           bool
	ColorCount         int     // sampled estimate
	Complexity         float64 // 0-1, higher means harder to compress
	RecommendedFormat  codec.Format
	RecommendedQuality int
	EstimatedSavings   float64 // 0-1 fraction of bytes expected to go away
}

// targetSamples bounds the number of pixels inspected so analysis
// cost stays flat regardless of image size.
const targetSamples = 50000

// Analyze decodes the image and derives compression recommendations.
func Analyze(data []byte) (*Analysis, error) {
	format, err := codec.DetectFormat(data)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode for analysis: %w", err)
	}

	b := img.Bounds()
	a := &Analysis{
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
	}
	sampleStats(img, a)
	recommend(a)
	return a, nil
}

// sampleStats walks a pixel grid collecting alpha presence, a unique
// color estimate, and a complexity score built from local gradients
// and color diversity.
func sampleStats(img image.Image, a *Analysis) {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return
	}
	step := 1
	if total > targetSamples {
		step = total / targetSamples
		// Round to a grid step in each dimension.
		for step > 1 && (b.Dx()/step == 0 || b.Dy()/step == 0) {
			step /= 2
		}
	}

	colors := make(map[uint32]struct{})
	var samples, edgy int
	var sum, sumSq float64

	var prevLuma float64
	first := true
	for y := b.Min.Y; y < b.Max.Y; y += step {
		first = true
		for x := b.Min.X; x < b.Max.X; x += step {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A < 255 {
				a.HasAlpha = true
			}
			key := uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
			colors[key] = struct{}{}

			luma := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
			sum += luma
			sumSq += luma * luma
			if !first && abs(luma-prevLuma) > 20 {
				edgy++
			}
			prevLuma = luma
			first = false
			samples++
		}
	}
	if samples == 0 {
		return
	}

	a.ColorCount = len(colors)
	mean := sum / float64(samples)
	variance := sumSq/float64(samples) - mean*mean
	if variance < 0 {
		variance = 0
	}
	varianceNorm := variance / (127.5 * 127.5)
	if varianceNorm > 1 {
		varianceNorm = 1
	}
	highFreq := float64(edgy) / float64(samples)
	diversity := float64(len(colors)) / float64(samples)
	if diversity > 1 {
		diversity = 1
	}

	a.Complexity = clamp01(0.5*highFreq + 0.3*diversity + 0.2*varianceNorm)
}

// recommend picks a target format and quality from the collected
// statistics. Transparency forces an alpha-capable format; flat
// low-color images keep png; photographic content prefers jpeg.
func recommend(a *Analysis) {
	switch {
	case a.HasAlpha && a.ColorCount < 256:
		a.RecommendedFormat = codec.FormatPNG
	case a.HasAlpha:
		a.RecommendedFormat = codec.FormatWebP
	case a.Complexity > 0.6:
		a.RecommendedFormat = codec.FormatJPEG
	default:
		a.RecommendedFormat = codec.FormatWebP
	}

	switch {
	case a.Complexity > 0.7:
		a.RecommendedQuality = 85
	case a.Complexity > 0.4:
		a.RecommendedQuality = 80
	default:
		a.RecommendedQuality = 75
	}

	// Rough savings estimate; lossless sources compress the most.
	switch a.Format {
	case codec.FormatPNG, codec.FormatTIFF:
		a.EstimatedSavings = 0.6 - 0.3*a.Complexity
	case codec.FormatJPEG:
		a.EstimatedSavings = 0.25 - 0.15*a.Complexity
	default:
		a.EstimatedSavings = 0.15
	}
	if a.EstimatedSavings < 0.05 {
		a.EstimatedSavings = 0.05
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
