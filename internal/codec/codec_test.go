package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTestImage renders a w*h gradient with an optional transparent
// stripe so encoders have real pixel data to work with.
func makeTestImage(w, h int, withAlpha bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if withAlpha && x < w/4 {
				a = 128
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) * 255 / (w + h)),
				A: a,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    Format
		wantErr bool
	}{
		{"png", encodePNG(t, makeTestImage(4, 4, false)), FormatPNG, false},
		{"jpeg", encodeJPEG(t, makeTestImage(4, 4, false), 80), FormatJPEG, false},
		{"gif87a", []byte("GIF87a trailing"), FormatGIF, false},
		{"gif89a", []byte("GIF89a trailing"), FormatGIF, false},
		{"webp", []byte("RIFF\x10\x00\x00\x00WEBPVP8 "), FormatWebP, false},
		{"avif", []byte("\x00\x00\x00\x1cftypavif rest of box"), FormatAVIF, false},
		{"tiff little endian", []byte("II*\x00 more"), FormatTIFF, false},
		{"tiff big endian", []byte("MM\x00* more"), FormatTIFF, false},
		{"garbage", []byte("definitely not an image"), "", true},
		{"empty", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name     string
		detected Format
		opts     Options
		want     Format
	}{
		{"no transcode keeps detected", FormatPNG, Options{Format: FormatWebP, Transcode: false}, FormatPNG},
		{"no transcode auto", FormatJPEG, Options{Format: FormatAuto}, FormatJPEG},
		{"transcode explicit wins", FormatPNG, Options{Format: FormatWebP, Transcode: true}, FormatWebP},
		{"transcode auto keeps detected", FormatPNG, Options{Format: FormatAuto, Transcode: true}, FormatPNG},
		{"transcode empty keeps detected", FormatGIF, Options{Transcode: true}, FormatGIF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveFormat(tt.detected, tt.opts))
		})
	}
}

func TestEffectiveQuality(t *testing.T) {
	assert.Equal(t, DefaultQuality, Options{}.EffectiveQuality())
	assert.Equal(t, 55, Options{Quality: 55}.EffectiveQuality())
	assert.Equal(t, 1, Options{Quality: -3}.EffectiveQuality())
	assert.Equal(t, 100, Options{Quality: 250}.EffectiveQuality())
}

func TestOptionsCanonical(t *testing.T) {
	base := Options{Format: FormatWebP, Quality: 80}

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, base.Canonical(), base.Canonical())
	})

	t.Run("quality changes the key", func(t *testing.T) {
		other := base
		other.Quality = 60
		assert.NotEqual(t, base.Canonical(), other.Canonical())
	})

	t.Run("unset quality equals default quality", func(t *testing.T) {
		a := Options{Format: FormatWebP}
		c := Options{Format: FormatWebP, Quality: DefaultQuality}
		assert.Equal(t, a.Canonical(), c.Canonical())
	})

	t.Run("resize participates", func(t *testing.T) {
		other := base
		other.Resize = &Resize{MaxWidth: 800, Fit: FitContain}
		assert.NotEqual(t, base.Canonical(), other.Canonical())
	})

	t.Run("optimize flags participate", func(t *testing.T) {
		other := base
		other.Optimize = &OptimizeFlags{Progressive: true}
		assert.NotEqual(t, base.Canonical(), other.Canonical())
	})

	t.Run("transcode participates", func(t *testing.T) {
		other := base
		other.Transcode = true
		assert.NotEqual(t, base.Canonical(), other.Canonical())
	})
}

func TestExt(t *testing.T) {
	assert.Equal(t, "jpg", Ext(FormatJPEG))
	assert.Equal(t, "png", Ext(FormatPNG))
	assert.Equal(t, "webp", Ext(FormatWebP))
	assert.Equal(t, "avif", Ext(FormatAVIF))
}

func TestFormatFromExt(t *testing.T) {
	assert.Equal(t, FormatJPEG, FormatFromExt(".jpg"))
	assert.Equal(t, FormatJPEG, FormatFromExt("jpeg"))
	assert.Equal(t, FormatPNG, FormatFromExt(".PNG"))
	assert.Equal(t, FormatTIFF, FormatFromExt("tif"))
	assert.Equal(t, Format(""), FormatFromExt(".css"))
}

func TestValidFormat(t *testing.T) {
	for _, s := range []string{"auto", "webp", "jpeg", "png", "avif"} {
		assert.True(t, ValidFormat(s), s)
	}
	for _, s := range []string{"", "bmp", "JPEG", "jpg"} {
		assert.False(t, ValidFormat(s), s)
	}
}

func TestResultSmaller(t *testing.T) {
	assert.True(t, (&Result{OriginalSize: 100, CompressedSize: 99}).Smaller())
	assert.False(t, (&Result{OriginalSize: 100, CompressedSize: 100}).Smaller())
	assert.False(t, (&Result{OriginalSize: 100, CompressedSize: 130}).Smaller())
}
