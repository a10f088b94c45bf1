package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/disintegration/imaging"
)

// ImagingBackend is the in-process pure-Go encoder. It never depends
// on external binaries but cannot produce webp or avif output, so
// those targets fall through to the next backend.
type ImagingBackend struct{}

// NewImagingBackend returns the in-process backend.
func NewImagingBackend() *ImagingBackend {
	return &ImagingBackend{}
}

func (b *ImagingBackend) Name() string { return "imaging" }

// Compress decodes, optionally resizes, and re-encodes in memory.
func (b *ImagingBackend) Compress(ctx context.Context, data []byte, opts Options) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	srcFormat, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	target := ResolveFormat(srcFormat, opts)

	encFormat, encOpts, err := b.encoder(target, opts)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	img = applyResize(img, opts.Resize)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, encFormat, encOpts...); err != nil {
		return nil, fmt.Errorf("encode %s: %w", target, err)
	}
	return newResult(data, buf.Bytes(), target, b.Name(), start), nil
}

// encoder maps a target format to an imaging encoder, or reports the
// backend unavailable for formats the pure-Go path cannot emit.
func (b *ImagingBackend) encoder(target Format, opts Options) (imaging.Format, []imaging.EncodeOption, error) {
	switch target {
	case FormatJPEG:
		return imaging.JPEG, []imaging.EncodeOption{imaging.JPEGQuality(opts.EffectiveQuality())}, nil
	case FormatPNG:
		return imaging.PNG, []imaging.EncodeOption{imaging.PNGCompressionLevel(pngLevel(opts))}, nil
	case FormatGIF:
		return imaging.GIF, nil, nil
	case FormatTIFF:
		return imaging.TIFF, nil, nil
	}
	return 0, nil, fmt.Errorf("no in-process encoder for %s: %w", target, ErrBackendUnavailable)
}

// applyResize bounds img to the configured dimensions. A nil resize
// or unset bounds leave the image untouched. Only shrinking is ever
// performed; an image already inside the bounds passes through.
func applyResize(img image.Image, r *Resize) image.Image {
	if r == nil || (r.MaxWidth <= 0 && r.MaxHeight <= 0) {
		return img
	}
	w, h := r.MaxWidth, r.MaxHeight
	b := img.Bounds()
	if w <= 0 {
		w = b.Dx()
	}
	if h <= 0 {
		h = b.Dy()
	}
	if b.Dx() <= w && b.Dy() <= h {
		return img
	}
	switch r.Fit {
	case FitCover:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	case FitFill:
		return imaging.Resize(img, w, h, imaging.Lanczos)
	default:
		return imaging.Fit(img, w, h, imaging.Lanczos)
	}
}

func pngLevel(opts Options) png.CompressionLevel {
	if opts.EffectiveQuality() >= 90 && (opts.Optimize == nil || !opts.Optimize.Lossless) {
		return png.DefaultCompression
	}
	return png.BestCompression
}
