package analyzer

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-optimizer-go/internal/codec"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// flatImage is a single solid color: minimal complexity.
func flatImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// noiseImage is per-pixel random color: maximal complexity.
func noiseImage(w, h int) *image.NRGBA {
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func TestAnalyzeDimensionsAndFormat(t *testing.T) {
	data := encodePNG(t, flatImage(80, 60, color.NRGBA{R: 200, G: 10, B: 10, A: 255}))

	a, err := Analyze(data)
	require.NoError(t, err)
	assert.Equal(t, 80, a.Width)
	assert.Equal(t, 60, a.Height)
	assert.Equal(t, codec.FormatPNG, a.Format)
	assert.False(t, a.HasAlpha)
	assert.Equal(t, 1, a.ColorCount)
}

func TestAnalyzeJPEGInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, noiseImage(64, 64), &jpeg.Options{Quality: 90}))

	a, err := Analyze(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, codec.FormatJPEG, a.Format)
}

func TestAnalyzeDetectsAlpha(t *testing.T) {
	img := flatImage(32, 32, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	img.SetNRGBA(5, 5, color.NRGBA{R: 10, G: 10, B: 10, A: 100})
	data := encodePNG(t, img)

	a, err := Analyze(data)
	require.NoError(t, err)
	assert.True(t, a.HasAlpha)
}

func TestAnalyzeComplexityOrdering(t *testing.T) {
	flat, err := Analyze(encodePNG(t, flatImage(64, 64, color.NRGBA{R: 128, G: 128, B: 128, A: 255})))
	require.NoError(t, err)
	noisy, err := Analyze(encodePNG(t, noiseImage(64, 64)))
	require.NoError(t, err)

	assert.Less(t, flat.Complexity, noisy.Complexity)
	assert.Less(t, flat.Complexity, 0.1)
	assert.Greater(t, noisy.Complexity, 0.6)
}

func TestAnalyzeRecommendations(t *testing.T) {
	t.Run("transparent low-color keeps png", func(t *testing.T) {
		img := flatImage(32, 32, color.NRGBA{R: 50, G: 60, B: 70, A: 200})
		a, err := Analyze(encodePNG(t, img))
		require.NoError(t, err)
		assert.Equal(t, codec.FormatPNG, a.RecommendedFormat)
	})

	t.Run("photographic goes jpeg", func(t *testing.T) {
		a, err := Analyze(encodePNG(t, noiseImage(64, 64)))
		require.NoError(t, err)
		assert.Equal(t, codec.FormatJPEG, a.RecommendedFormat)
	})

	t.Run("flat opaque goes webp", func(t *testing.T) {
		a, err := Analyze(encodePNG(t, flatImage(32, 32, color.NRGBA{R: 1, G: 2, B: 3, A: 255})))
		require.NoError(t, err)
		assert.Equal(t, codec.FormatWebP, a.RecommendedFormat)
	})

	t.Run("quality in expected band", func(t *testing.T) {
		a, err := Analyze(encodePNG(t, flatImage(16, 16, color.NRGBA{A: 255})))
		require.NoError(t, err)
		assert.Equal(t, 75, a.RecommendedQuality)
	})
}

func TestAnalyzeEstimatedSavingsFloor(t *testing.T) {
	a, err := Analyze(encodePNG(t, noiseImage(32, 32)))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a.EstimatedSavings, 0.05)
	assert.LessOrEqual(t, a.EstimatedSavings, 1.0)
}

func TestAnalyzeRejectsGarbage(t *testing.T) {
	_, err := Analyze([]byte("not an image at all"))
	require.Error(t, err)
}

func TestIsMarkedOptimized(t *testing.T) {
	t.Run("plain jpeg unmarked", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, flatImage(8, 8, color.NRGBA{A: 255}), nil))
		assert.False(t, IsMarkedOptimized(buf.Bytes()))
	})

	t.Run("png never marked", func(t *testing.T) {
		assert.False(t, IsMarkedOptimized(encodePNG(t, flatImage(8, 8, color.NRGBA{A: 255}))))
	})

	t.Run("garbage never marked", func(t *testing.T) {
		assert.False(t, IsMarkedOptimized([]byte("garbage")))
	})
}
