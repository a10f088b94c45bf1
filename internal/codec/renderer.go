package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"time"

	"golang.org/x/image/draw"

	// Decoders for the stdlib image registry; gif, webp and tiff
	// inputs become renderable through these.
	_ "image/gif"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// RendererBackend is the last-resort re-encode path: decode into a
// pixel buffer with whatever decoder the runtime registers, scale
// with x/image/draw, and emit jpeg or png. It requires a renderable
// source and fails fast with ErrNotRenderable otherwise.
type RendererBackend struct{}

// NewRendererBackend returns the renderer re-encode backend.
func NewRendererBackend() *RendererBackend {
	return &RendererBackend{}
}

func (b *RendererBackend) Name() string { return "renderer" }

// Compress re-renders the input into jpeg or png. Targets the
// renderer cannot emit fall through with ErrBackendUnavailable.
func (b *RendererBackend) Compress(ctx context.Context, data []byte, opts Options) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	srcFormat, err := DetectFormat(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRenderable, err)
	}
	target := ResolveFormat(srcFormat, opts)
	if target != FormatJPEG && target != FormatPNG {
		return nil, fmt.Errorf("renderer cannot emit %s: %w", target, ErrBackendUnavailable)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRenderable, err)
	}
	img = b.scale(img, opts.Resize)

	var buf bytes.Buffer
	switch target {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.EffectiveQuality()})
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", target, err)
	}
	return newResult(data, buf.Bytes(), target, b.Name(), start), nil
}

func (b *RendererBackend) scale(img image.Image, r *Resize) image.Image {
	if r == nil || (r.MaxWidth <= 0 && r.MaxHeight <= 0) {
		return img
	}
	src := img.Bounds()
	w, h := fitWithin(src.Dx(), src.Dy(), r.MaxWidth, r.MaxHeight)
	if w >= src.Dx() && h >= src.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	return dst
}

// fitWithin scales (w,h) down to fit inside (maxW,maxH) preserving
// aspect ratio. Zero bounds are unconstrained.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if maxW <= 0 {
		maxW = w
	}
	if maxH <= 0 {
		maxH = h
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
