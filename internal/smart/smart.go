// Package smart iteratively searches compression quality to approach
// a caller-specified byte budget without re-implementing any codec.
package smart

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"asset-optimizer-go/internal/analyzer"
	"asset-optimizer-go/internal/codec"
)

// Compressor is the slice of the backend chain the optimizer needs.
// *codec.Chain satisfies it.
type Compressor interface {
	Attempt(ctx context.Context, data []byte, opts codec.Options) (*codec.Result, error)
}

const (
	// maxRetries bounds the search after the initial attempt, so an
	// optimize call performs at most maxRetries+1 compressions.
	maxRetries = 5

	qualityStep  = 15
	qualityFloor = 10
)

// Optimizer searches for a quality that fits a byte budget.
type Optimizer struct {
	chain Compressor
	log   *logrus.Logger
}

// New returns an Optimizer over the given chain.
func New(chain Compressor, log *logrus.Logger) *Optimizer {
	return &Optimizer{chain: chain, log: log}
}

// Optimize compresses data aiming at targetBytes. It starts from the
// base options (quality defaulting to 80) and lowers quality by 15
// per retry down to a floor of 10, stopping early once the result
// fits. The budget being unreachable is not an error: the last
// attempt is returned. Optimize fails only when every underlying
// compression attempt fails.
func (o *Optimizer) Optimize(ctx context.Context, data []byte, base codec.Options, targetBytes int) (*codec.Result, error) {
	opts := o.preselect(data, base, targetBytes)
	quality := opts.EffectiveQuality()

	var last *codec.Result
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		opts.Quality = quality
		res, err := o.chain.Attempt(ctx, data, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			o.log.Warnf("Budget search attempt %d failed: %v", attempt+1, err)
		} else {
			last = res
			o.log.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"quality": quality,
				"size":    res.CompressedSize,
				"target":  targetBytes,
			}).Debug("Budget search step")
			if res.CompressedSize <= targetBytes {
				return res, nil
			}
		}
		if quality <= qualityFloor {
			break
		}
		quality -= qualityStep
		if quality < qualityFloor {
			quality = qualityFloor
		}
	}
	if last != nil {
		return last, nil
	}
	return nil, fmt.Errorf("budget search: %w", lastErr)
}

// preselect fills in format and starting quality when the caller left
// them automatic: transparent sources go to webp, high-complexity
// photographic sources to jpeg, everything else to webp; the starting
// quality scales with how generous the budget is relative to the
// complexity-adjusted source size.
func (o *Optimizer) preselect(data []byte, base codec.Options, targetBytes int) codec.Options {
	opts := base
	auto := opts.Format == "" || opts.Format == codec.FormatAuto
	if !auto && opts.Quality != 0 {
		return opts
	}

	a, err := analyzer.Analyze(data)
	if err != nil {
		o.log.Debugf("Preselection analysis failed, keeping base options: %v", err)
		return opts
	}

	if auto && opts.Transcode {
		if a.HasAlpha {
			opts.Format = codec.FormatWebP
		} else if a.Complexity > 0.6 {
			opts.Format = codec.FormatJPEG
		} else {
			opts.Format = codec.FormatWebP
		}
	}

	if opts.Quality == 0 {
		estimated := float64(len(data)) * (0.3 + 0.7*a.Complexity)
		ratio := float64(targetBytes) / estimated
		switch {
		case ratio >= 0.8:
			opts.Quality = 90
		case ratio >= 0.5:
			opts.Quality = 75
		case ratio >= 0.3:
			opts.Quality = 60
		default:
			opts.Quality = 45
		}
	}
	return opts
}

// ParseTargetSize parses budgets like "102400", "100kb" or "1.5 MB"
// into bytes.
func ParseTargetSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty target size")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("target size must be positive: %d", n)
		}
		return n, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid target size %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("target size must be positive: %s", s)
	}
	return int(n), nil
}
