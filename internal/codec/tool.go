package codec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// SoftwareMarker is written into the EXIF Software tag of outputs
// produced by the tool backend. The pipeline skips assets that
// already carry it.
const SoftwareMarker = "asset-optimizer"

// ToolBackend shells out to native encoders (cwebp, avifenc,
// ImageMagick, pngquant). It is the fastest and widest backend but
// depends on the binaries being installed; a missing binary for the
// requested format surfaces as ErrBackendUnavailable.
type ToolBackend struct {
	log              *logrus.Logger
	preserveMetadata bool

	probeOnce sync.Once
	tools     map[string]string // tool name -> resolved path
}

// NewToolBackend returns a backend that uses whichever native
// encoders are present on PATH.
func NewToolBackend(log *logrus.Logger, preserveMetadata bool) *ToolBackend {
	return &ToolBackend{log: log, preserveMetadata: preserveMetadata}
}

func (b *ToolBackend) Name() string { return "native-tool" }

// Probe resolves the available encoder binaries. Safe to call more
// than once.
func (b *ToolBackend) Probe(_ context.Context) error {
	b.probe()
	if len(b.tools) == 0 {
		return fmt.Errorf("no native encoders on PATH: %w", ErrBackendUnavailable)
	}
	return nil
}

func (b *ToolBackend) probe() {
	b.probeOnce.Do(func() {
		b.tools = make(map[string]string)
		for _, name := range []string{"cwebp", "avifenc", "magick", "convert", "pngquant", "exiftool"} {
			if path, err := exec.LookPath(name); err == nil {
				b.tools[name] = path
			}
		}
	})
}

func (b *ToolBackend) tool(names ...string) (string, bool) {
	for _, n := range names {
		if p, ok := b.tools[n]; ok {
			return p, ok
		}
	}
	return "", false
}

// Compress encodes via an external binary, using temp files for
// input and output.
func (b *ToolBackend) Compress(ctx context.Context, data []byte, opts Options) (*Result, error) {
	start := time.Now()
	b.probe()

	srcFormat, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	target := ResolveFormat(srcFormat, opts)

	dir, err := os.MkdirTemp("", "asset-optimizer-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in."+Ext(srcFormat))
	outPath := filepath.Join(dir, "out."+Ext(target))
	if err := os.WriteFile(inPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write temp input: %w", err)
	}

	cmd, err := b.command(ctx, target, inPath, outPath, opts)
	if err != nil {
		return nil, err
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %v (%s)", cmd.Path, err, firstLine(out))
	}

	encoded, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read encoder output: %w", err)
	}

	if opts.PreserveMetadata && target == FormatJPEG && srcFormat == FormatJPEG {
		if err := b.carryMetadata(inPath, outPath); err != nil {
			b.log.Debugf("Metadata carry-over skipped: %v", err)
		} else if marked, err := os.ReadFile(outPath); err == nil {
			encoded = marked
		}
	}

	return newResult(data, encoded, target, b.Name(), start), nil
}

// command builds the encoder invocation for the target format.
func (b *ToolBackend) command(ctx context.Context, target Format, inPath, outPath string, opts Options) (*exec.Cmd, error) {
	q := opts.EffectiveQuality()
	switch target {
	case FormatWebP:
		path, ok := b.tool("cwebp")
		if !ok {
			return nil, fmt.Errorf("cwebp not installed: %w", ErrBackendUnavailable)
		}
		args := []string{"-quiet", "-q", strconv.Itoa(q)}
		if opts.Optimize != nil && opts.Optimize.Lossless {
			args = append(args, "-lossless")
		}
		if opts.Resize != nil {
			args = append(args, "-resize", strconv.Itoa(opts.Resize.MaxWidth), strconv.Itoa(opts.Resize.MaxHeight))
		}
		args = append(args, "-o", outPath, inPath)
		return exec.CommandContext(ctx, path, args...), nil

	case FormatAVIF:
		path, ok := b.tool("avifenc")
		if !ok {
			return nil, fmt.Errorf("avifenc not installed: %w", ErrBackendUnavailable)
		}
		// avifenc works in quantizer steps 0 (best) to 63 (worst).
		qz := 63 - q*63/100
		args := []string{"--min", strconv.Itoa(qz), "--max", strconv.Itoa(qz), inPath, outPath}
		return exec.CommandContext(ctx, path, args...), nil

	case FormatPNG:
		if opts.Optimize != nil && opts.Optimize.Colors {
			if path, ok := b.tool("pngquant"); ok {
				args := []string{"--force", "--quality", fmt.Sprintf("0-%d", q), "--output", outPath, inPath}
				return exec.CommandContext(ctx, path, args...), nil
			}
		}
		return b.magickCommand(ctx, inPath, outPath, opts)

	case FormatJPEG, FormatGIF, FormatTIFF:
		return b.magickCommand(ctx, inPath, outPath, opts)
	}
	return nil, fmt.Errorf("no native encoder for %s: %w", target, ErrBackendUnavailable)
}

func (b *ToolBackend) magickCommand(ctx context.Context, inPath, outPath string, opts Options) (*exec.Cmd, error) {
	path, ok := b.tool("magick", "convert")
	if !ok {
		return nil, fmt.Errorf("imagemagick not installed: %w", ErrBackendUnavailable)
	}
	args := []string{inPath, "-strip", "-quality", strconv.Itoa(opts.EffectiveQuality())}
	if opts.Resize != nil {
		geom := fmt.Sprintf("%dx%d", opts.Resize.MaxWidth, opts.Resize.MaxHeight)
		if opts.Resize.Fit == FitCover || opts.Resize.Fit == FitFill {
			geom += "^"
		}
		args = append(args, "-resize", geom)
	}
	if opts.Optimize != nil && opts.Optimize.Progressive {
		args = append(args, "-interlace", "Plane")
	}
	args = append(args, outPath)
	return exec.CommandContext(ctx, path, args...), nil
}

// carryMetadata copies EXIF tags from src onto dst and stamps the
// Software marker so later builds recognize the output as already
// optimized.
func (b *ToolBackend) carryMetadata(src, dst string) error {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return fmt.Errorf("exiftool init: %w", err)
	}
	defer et.Close()

	metas := et.ExtractMetadata(src)
	if len(metas) == 0 {
		return fmt.Errorf("extract source metadata: no result")
	}
	if metas[0].Err != nil {
		return fmt.Errorf("extract source metadata: %w", metas[0].Err)
	}

	out := exiftool.EmptyFileMetadata()
	out.File = dst
	out.Fields = metas[0].Fields
	out.SetString("Software", SoftwareMarker)
	batch := []exiftool.FileMetadata{out}
	et.WriteMetadata(batch)
	if batch[0].Err != nil {
		return fmt.Errorf("write metadata: %w", batch[0].Err)
	}
	return nil
}

func firstLine(out []byte) string {
	for i, c := range out {
		if c == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
