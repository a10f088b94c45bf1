package codec

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Chain tries backends in priority order and falls back on failure.
// A Chain is safe for concurrent use.
type Chain struct {
	backends []Backend
	log      *logrus.Logger

	warmOnce sync.Once
}

// NewChain builds a chain over the given backends, tried in order.
func NewChain(log *logrus.Logger, backends ...Backend) *Chain {
	return &Chain{backends: backends, log: log}
}

// DefaultChain returns the standard backend order: external native
// tools first, the in-process encoder second, the renderer re-encode
// as last resort.
func DefaultChain(log *logrus.Logger, preserveMetadata bool) *Chain {
	return NewChain(log,
		NewToolBackend(log, preserveMetadata),
		NewImagingBackend(),
		NewRendererBackend(),
	)
}

// Backends returns the backend names in priority order.
func (c *Chain) Backends() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Warmup probes backend availability once per build. Calling it again
// is a no-op.
func (c *Chain) Warmup(ctx context.Context) {
	c.warmOnce.Do(func() {
		for _, b := range c.backends {
			if p, ok := b.(interface{ Probe(context.Context) error }); ok {
				if err := p.Probe(ctx); err != nil {
					c.log.WithField("backend", b.Name()).Debugf("Backend probe: %v", err)
				}
			}
		}
	})
}

// Attempt produces a Result from raw bytes, trying each backend in
// order. It returns an *ExhaustedError when no backend could process
// the input.
func (c *Chain) Attempt(ctx context.Context, data []byte, opts Options) (*Result, error) {
	var exhausted ExhaustedError
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := b.Compress(ctx, data, opts)
		if err == nil {
			c.log.WithFields(logrus.Fields{
				"backend": b.Name(),
				"format":  res.Format,
				"ratio":   res.Ratio,
			}).Debug("Backend succeeded")
			return res, nil
		}
		c.log.WithField("backend", b.Name()).Warnf("Backend failed, falling through: %v", err)
		exhausted.Attempts = append(exhausted.Attempts, AttemptError{Backend: b.Name(), Err: err})
	}
	return nil, &exhausted
}
