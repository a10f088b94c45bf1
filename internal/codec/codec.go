package codec

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
)

// Format identifies an image output format.
type Format string

const (
	// FormatAuto resolves to the input's detected format unless
	// transcoding is enabled.
	FormatAuto Format = "auto"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tiff"
)

// FitMode controls how an image is resized into the requested bounds.
type FitMode string

const (
	FitContain FitMode = "contain"
	FitCover   FitMode = "cover"
	FitFill    FitMode = "fill"
)

// Resize bounds an image to a maximum width and height.
type Resize struct {
	MaxWidth  int
	MaxHeight int
	Fit       FitMode
}

// OptimizeFlags are format-level optimization switches. Backends honor
// the flags they can and ignore the rest; all flags participate in the
// cache key either way.
type OptimizeFlags struct {
	Colors      bool // color quantization
	Progressive bool // progressive/interlaced encoding
	Lossless    bool
}

// Options describes a single compression invocation. Options are
// immutable once handed to a backend.
type Options struct {
	Format   Format
	Quality  int // 1-100
	Resize   *Resize
	Optimize *OptimizeFlags

	// Transcode permits the output format to differ from the input
	// format. When false the requested Format is ignored and the
	// input format is kept.
	Transcode bool

	// PreserveMetadata carries EXIF tags from the source into the
	// compressed output where the backend supports it.
	PreserveMetadata bool
}

// DefaultQuality is used when Options.Quality is unset.
const DefaultQuality = 80

// EffectiveQuality returns the quality clamped to [1,100], defaulting
// when unset.
func (o Options) EffectiveQuality() int {
	q := o.Quality
	if q == 0 {
		q = DefaultQuality
	}
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q
}

// Canonical returns a deterministic serialization of the options used
// for cache key derivation. Every field that influences the output
// bytes must appear here.
func (o Options) Canonical() string {
	var b strings.Builder
	fmt.Fprintf(&b, "format=%s;quality=%d", o.Format, o.EffectiveQuality())
	if o.Resize != nil {
		fmt.Fprintf(&b, ";resize=%dx%d:%s", o.Resize.MaxWidth, o.Resize.MaxHeight, o.Resize.Fit)
	}
	if o.Optimize != nil {
		fmt.Fprintf(&b, ";colors=%t;progressive=%t;lossless=%t",
			o.Optimize.Colors, o.Optimize.Progressive, o.Optimize.Lossless)
	}
	fmt.Fprintf(&b, ";transcode=%t", o.Transcode)
	return b.String()
}

// Result describes the outcome of a successful compression.
type Result struct {
	Data           []byte
	OriginalSize   int
	CompressedSize int
	Ratio          float64 // compressed / original
	Elapsed        time.Duration
	Format         Format // resolved output format
	Backend        string
}

// Smaller reports whether the compressed output actually shrank the
// input. The caller, not the backend, decides what to do when it
// did not.
func (r *Result) Smaller() bool {
	return r.CompressedSize < r.OriginalSize
}

func newResult(original, compressed []byte, format Format, backend string, start time.Time) *Result {
	ratio := 1.0
	if len(original) > 0 {
		ratio = float64(len(compressed)) / float64(len(original))
	}
	return &Result{
		Data:           compressed,
		OriginalSize:   len(original),
		CompressedSize: len(compressed),
		Ratio:          ratio,
		Elapsed:        time.Since(start),
		Format:         format,
		Backend:        backend,
	}
}

// Backend is one concrete codec implementation. Implementations return
// ErrBackendUnavailable when they cannot run for the given input or
// environment, letting the chain fall through to the next backend.
type Backend interface {
	Name() string
	Compress(ctx context.Context, data []byte, opts Options) (*Result, error)
}

// DetectFormat sniffs the image format from magic bytes. It never
// decodes the full image.
func DetectFormat(data []byte) (Format, error) {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG, nil
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("\xff\xd8\xff")):
		return FormatJPEG, nil
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return FormatGIF, nil
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP, nil
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) && (bytes.Equal(data[8:12], []byte("avif")) || bytes.Equal(data[8:12], []byte("avis"))):
		return FormatAVIF, nil
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))):
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("detect format: %w", ErrUnknownFormat)
}

// ResolveFormat applies the format resolution rules: without
// transcoding the detected format always wins; with transcoding an
// explicit request wins and 'auto' keeps the detected format.
func ResolveFormat(detected Format, opts Options) Format {
	if !opts.Transcode {
		return detected
	}
	if opts.Format == "" || opts.Format == FormatAuto {
		return detected
	}
	return opts.Format
}

// Ext returns the file extension (without dot) for a format.
func Ext(f Format) string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatAVIF:
		return "avif"
	case FormatGIF:
		return "gif"
	case FormatTIFF:
		return "tiff"
	}
	return string(f)
}

// FormatFromExt maps a file extension (with or without dot) to a
// Format, or "" if the extension is not an image format.
func FormatFromExt(ext string) Format {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	case "avif":
		return FormatAVIF
	case "gif":
		return FormatGIF
	case "tif", "tiff":
		return FormatTIFF
	}
	return ""
}

// ValidFormat reports whether s names a configurable output format.
func ValidFormat(s string) bool {
	switch Format(s) {
	case FormatAuto, FormatJPEG, FormatPNG, FormatWebP, FormatAVIF:
		return true
	}
	return false
}
