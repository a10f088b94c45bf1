// Package pipeline binds the compression chain, the cache, the smart
// optimizer and the rewriter to a host build lifecycle. It exposes
// bundler-style hooks (ConfigResolved, BuildStart, GenerateBundle,
// WriteBundle) driven either by the CLI over a built directory or by
// an embedding host.
package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"asset-optimizer-go/internal/analyzer"
	"asset-optimizer-go/internal/bundle"
	"asset-optimizer-go/internal/cache"
	"asset-optimizer-go/internal/codec"
	"asset-optimizer-go/internal/config"
	"asset-optimizer-go/internal/rewriter"
	"asset-optimizer-go/internal/smart"
	"asset-optimizer-go/internal/statistics"
)

// State is the orchestrator's position in the build lifecycle.
type State int

const (
	StateIdle State = iota
	StateConfigResolved
	StateInitializing
	StateProcessing
	StateRewriting
	StateManifestEmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigResolved:
		return "config-resolved"
	case StateInitializing:
		return "initializing"
	case StateProcessing:
		return "processing"
	case StateRewriting:
		return "rewriting"
	case StateManifestEmitted:
		return "manifest-emitted"
	}
	return "unknown"
}

// Mode is the host build environment.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ProcessedFileRecord describes one asset that was actually mutated.
// Records live for a single build and feed the manifest.
type ProcessedFileRecord struct {
	SourcePath     string
	OutputPath     string
	OriginalSize   int64
	CompressedSize int64
	Ratio          float64
	Elapsed        time.Duration
	Format         codec.Format
}

// BuildContext is the build-scoped accumulator. A fresh context is
// created on every BuildStart, so nothing leaks across builds and
// concurrent test builds stay isolated.
type BuildContext struct {
	ID        string
	StartedAt time.Time
	Stats     *statistics.Statistics

	mu      sync.Mutex
	records []ProcessedFileRecord
	renames []rewriter.RenameEntry
}

func newBuildContext() *BuildContext {
	return &BuildContext{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Stats:     statistics.NewStatistics(),
	}
}

func (bc *BuildContext) addRecord(r ProcessedFileRecord) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.records = append(bc.records, r)
}

// Records returns a snapshot of the processed-file records.
func (bc *BuildContext) Records() []ProcessedFileRecord {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := make([]ProcessedFileRecord, len(bc.records))
	copy(out, bc.records)
	return out
}

// Renames returns the rename entries applied during the rewrite phase.
func (bc *BuildContext) Renames() []rewriter.RenameEntry {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := make([]rewriter.RenameEntry, len(bc.renames))
	copy(out, bc.renames)
	return out
}

// Orchestrator runs the optimization pipeline for one build at a
// time.
type Orchestrator struct {
	cfg   *config.Config
	log   *logrus.Logger
	chain *codec.Chain
	smart *smart.Optimizer
	cache *cache.Cache
	rew   *rewriter.Rewriter

	include []glob.Glob
	exclude []glob.Glob

	targetSize int // 0 disables budget search

	mu      sync.Mutex
	state   State
	mode    Mode
	enabled bool
	build   *BuildContext
}

// Option adjusts orchestrator construction.
type Option func(*Orchestrator)

// WithChain substitutes the backend chain; used by tests and by hosts
// embedding their own codecs.
func WithChain(c *codec.Chain) Option {
	return func(o *Orchestrator) { o.chain = c }
}

// WithCache substitutes the cache instance.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// New builds an Orchestrator from validated configuration.
func New(cfg *config.Config, log *logrus.Logger, opts ...Option) (*Orchestrator, error) {
	include, exclude, err := cfg.CompileGlobs()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:     cfg,
		log:     log,
		rew:     rewriter.New(log),
		include: include,
		exclude: exclude,
		state:   StateIdle,
	}

	if cfg.FormatConflicts() {
		log.Warnf("Format %q requested without transcode enabled; the source format will be kept", cfg.Format)
	}

	if cfg.TargetSize != "" {
		n, err := smart.ParseTargetSize(cfg.TargetSize)
		if err != nil {
			return nil, err
		}
		o.targetSize = n
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.chain == nil {
		o.chain = codec.DefaultChain(log, cfg.PreserveMetadata)
	}
	o.smart = smart.New(o.chain, log)

	if o.cache == nil && cfg.Cache.Enabled {
		c, err := cache.New(cfg.Cache.Dir, log)
		if err != nil {
			// Cache trouble never blocks a build.
			log.Warnf("Cache disabled: %v", err)
		} else {
			o.cache = c
		}
	}

	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Build returns the current build context, or nil outside a build.
func (o *Orchestrator) Build() *BuildContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.build
}

// ConfigResolved records the build environment and decides whether
// the pipeline participates at all. A disabled environment
// short-circuits the remaining hooks.
func (o *Orchestrator) ConfigResolved(mode Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mode = mode
	o.enabled = o.cfg.EnabledFor(mode == ModeDevelopment)
	if !o.enabled {
		o.log.Infof("Pipeline disabled for %s builds", mode)
		o.state = StateIdle
		return
	}
	o.state = StateConfigResolved
}

// BuildStart warms the backend chain and opens a fresh build context.
// Warm-up happens at most once per process; repeated calls are
// idempotent.
func (o *Orchestrator) BuildStart(ctx context.Context) error {
	o.mu.Lock()
	if !o.enabled {
		o.mu.Unlock()
		return nil
	}
	o.state = StateInitializing
	o.build = newBuildContext()
	o.mu.Unlock()

	o.chain.Warmup(ctx)
	o.log.WithField("build", o.build.ID).Debugf("Backends ready: %s", strings.Join(o.chain.Backends(), ", "))
	return nil
}

// GenerateBundle is the main hook: it fans per-asset compression out
// over a worker pool, waits for every outcome, and then runs the
// single-threaded rewrite pass. Individual asset failures are logged
// and skipped; only a rewrite failure propagates.
func (o *Orchestrator) GenerateBundle(ctx context.Context, b *bundle.Bundle) error {
	o.mu.Lock()
	if !o.enabled {
		o.mu.Unlock()
		return nil
	}
	if o.build == nil {
		o.build = newBuildContext()
	}
	o.state = StateProcessing
	bc := o.build
	o.mu.Unlock()

	candidates := o.selectAssets(b, bc.Stats)
	o.log.Infof("Processing %d image assets (%d workers)", len(candidates), o.cfg.Performance.Workers)

	muts := o.processAll(ctx, b, candidates, bc)

	// Hard barrier: every Processing outcome is known before any
	// mutation of the bundle happens.
	o.mu.Lock()
	o.state = StateRewriting
	o.mu.Unlock()

	res, err := o.rew.Apply(b, muts)
	if err != nil {
		return fmt.Errorf("rewrite pass: %w", err)
	}

	bc.mu.Lock()
	bc.renames = res.Renames
	bc.mu.Unlock()
	for range res.Renames {
		bc.Stats.IncrementRenames()
	}
	bc.Stats.AddChunksPatched(int64(res.PatchedChunks))
	bc.Stats.Finalize()

	o.log.WithFields(logrus.Fields{
		"replaced": res.Replaced,
		"skipped":  res.Skipped,
		"renames":  len(res.Renames),
		"patched":  res.PatchedChunks,
	}).Info("Rewrite pass complete")
	return nil
}

// selectAssets filters the bundle down to qualifying image assets.
func (o *Orchestrator) selectAssets(b *bundle.Bundle, stats *statistics.Statistics) []string {
	var out []string
	for _, name := range b.Names() {
		if !bundle.IsImage(name) {
			continue
		}
		if !o.matches(name) {
			stats.IncrementAssetsExcluded()
			continue
		}
		asset, ok := b.Get(name)
		if !ok {
			continue
		}
		if analyzer.IsMarkedOptimized(asset.Data) {
			o.log.Debugf("Skipping %s: already optimized by an earlier build", name)
			stats.IncrementAssetsSkipped()
			continue
		}
		stats.IncrementAssetsFound()
		out = append(out, name)
	}
	return out
}

func (o *Orchestrator) matches(name string) bool {
	base := path.Base(name)
	included := len(o.include) == 0
	for _, g := range o.include {
		if g.Match(name) || g.Match(base) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, g := range o.exclude {
		if g.Match(name) || g.Match(base) {
			return false
		}
	}
	return true
}

// processAll runs per-asset compression over a bounded worker pool
// with unordered completion.
func (o *Orchestrator) processAll(ctx context.Context, b *bundle.Bundle, names []string, bc *BuildContext) []rewriter.Mutation {
	if len(names) == 0 {
		return nil
	}

	type job struct {
		name string
	}
	type outcome struct {
		mut *rewriter.Mutation
	}

	workers := o.cfg.Performance.Workers
	if workers > len(names) {
		workers = len(names)
	}

	jobs := make(chan job, len(names))
	outcomes := make(chan outcome, len(names))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					outcomes <- outcome{}
					continue
				default:
				}
				outcomes <- outcome{mut: o.processAsset(ctx, b, j.name, bc)}
			}
		}()
	}

	for _, name := range names {
		jobs <- job{name: name}
	}
	close(jobs)

	wg.Wait()
	close(outcomes)

	var muts []rewriter.Mutation
	for out := range outcomes {
		if out.mut != nil {
			muts = append(muts, *out.mut)
		}
	}
	return muts
}

// processAsset compresses one asset, consulting the cache first. It
// returns nil when the asset should be left untouched; failures
// degrade to skips so one bad image never fails the build.
func (o *Orchestrator) processAsset(ctx context.Context, b *bundle.Bundle, name string, bc *BuildContext) *rewriter.Mutation {
	asset, ok := b.Get(name)
	if !ok {
		return nil
	}
	stats := bc.Stats
	stats.IncrementAssetsProcessed()
	start := time.Now()

	opts, err := o.effectiveOptions(asset.Data)
	if err != nil {
		o.log.WithField("asset", name).Warnf("Skipping: %v", err)
		stats.IncrementAssetsSkipped()
		return nil
	}

	detected, err := codec.DetectFormat(asset.Data)
	if err != nil {
		o.log.WithField("asset", name).Warnf("Skipping: %v", err)
		stats.IncrementAssetsSkipped()
		return nil
	}
	resolved := codec.ResolveFormat(detected, opts)
	ext := codec.Ext(resolved)

	var res *codec.Result
	key := cache.Key(asset.Data, opts, o.targetSize)
	if o.cache != nil {
		if data, hit := o.cache.Lookup(key, ext); hit {
			stats.IncrementCacheHits()
			res = &codec.Result{
				Data:           data,
				OriginalSize:   len(asset.Data),
				CompressedSize: len(data),
				Ratio:          float64(len(data)) / float64(len(asset.Data)),
				Elapsed:        time.Since(start),
				Format:         resolved,
				Backend:        "cache",
			}
		} else {
			stats.IncrementCacheMisses()
		}
	}

	if res == nil {
		if o.targetSize > 0 {
			res, err = o.smart.Optimize(ctx, asset.Data, opts, o.targetSize)
		} else {
			res, err = o.chain.Attempt(ctx, asset.Data, opts)
		}
		if err != nil {
			o.log.WithField("asset", name).Errorf("Compression failed, keeping original: %v", err)
			stats.IncrementAssetsWithError()
			stats.AddError(name, "compress", err.Error())
			return nil
		}
		if o.cache != nil {
			if err := o.cache.Store(key, codec.Ext(res.Format), res.Data); err != nil {
				o.log.Warnf("Cache store failed for %s: %v", name, err)
			}
		}
	}

	stats.IncrementBackendUsage(res.Backend)

	// Size gate: the rewriter enforces it again, but skipping here
	// keeps the records and statistics honest.
	if !res.Smaller() {
		o.log.WithField("asset", name).Debugf("Output not smaller (%d >= %d), keeping original",
			res.CompressedSize, res.OriginalSize)
		stats.IncrementAssetsSkipped()
		return nil
	}

	outName := name
	if opts.Transcode && res.Format != detected {
		outName = strings.TrimSuffix(name, path.Ext(name)) + "." + codec.Ext(res.Format)
	}
	bc.addRecord(ProcessedFileRecord{
		SourcePath:     name,
		OutputPath:     outName,
		OriginalSize:   int64(res.OriginalSize),
		CompressedSize: int64(res.CompressedSize),
		Ratio:          res.Ratio,
		Elapsed:        res.Elapsed,
		Format:         res.Format,
	})
	stats.IncrementAssetsOptimized()
	stats.AddBytes(int64(res.OriginalSize), int64(res.CompressedSize))

	o.log.WithFields(logrus.Fields{
		"asset":   name,
		"backend": res.Backend,
		"from":    res.OriginalSize,
		"to":      res.CompressedSize,
	}).Info("Asset optimized")

	return &rewriter.Mutation{
		Name:             name,
		Data:             res.Data,
		Format:           res.Format,
		Transcode:        opts.Transcode,
		PreserveOriginal: o.cfg.PreserveOriginal,
	}
}

// effectiveOptions builds the per-asset compression options from
// configuration, resolving 'auto' + transcode through the analyzer so
// the chain (and the cache key) see a concrete target format.
func (o *Orchestrator) effectiveOptions(data []byte) (codec.Options, error) {
	opts := codec.Options{
		Format:           codec.Format(o.cfg.Format),
		Quality:          o.cfg.EffectiveQuality(o.mode == ModeDevelopment),
		Transcode:        o.cfg.Transcode,
		PreserveMetadata: o.cfg.PreserveMetadata,
	}
	if o.cfg.FormatConflicts() {
		opts.Format = codec.FormatAuto
	}
	if o.cfg.Resize.MaxWidth > 0 || o.cfg.Resize.MaxHeight > 0 {
		opts.Resize = &codec.Resize{
			MaxWidth:  o.cfg.Resize.MaxWidth,
			MaxHeight: o.cfg.Resize.MaxHeight,
			Fit:       codec.FitMode(o.cfg.Resize.Fit),
		}
	}
	if o.cfg.Optimize != (config.OptimizeConfig{}) {
		opts.Optimize = &codec.OptimizeFlags{
			Colors:      o.cfg.Optimize.Colors,
			Progressive: o.cfg.Optimize.Progressive,
			Lossless:    o.cfg.Optimize.Lossless,
		}
	}

	if opts.Transcode && (opts.Format == codec.FormatAuto || opts.Format == "") {
		a, err := analyzer.Analyze(data)
		if err != nil {
			return opts, fmt.Errorf("analyze: %w", err)
		}
		opts.Format = a.RecommendedFormat
	}
	return opts, nil
}

// WriteBundle flushes the manifest after the host has written
// physical files. Manifest trouble is logged, never fatal.
func (o *Orchestrator) WriteBundle(outDir string) error {
	o.mu.Lock()
	enabled := o.enabled
	bc := o.build
	o.mu.Unlock()

	if !enabled || bc == nil {
		return nil
	}

	o.mu.Lock()
	o.state = StateManifestEmitted
	o.mu.Unlock()

	if o.cfg.GenerateManifest {
		if err := WriteManifest(outDir, bc); err != nil {
			o.log.Errorf("Manifest write failed: %v", err)
		} else {
			o.log.Infof("Manifest written to %s", ManifestPath(outDir))
		}
	}

	// End of cycle: return to idle. The build context stays around so
	// reporting and the web API can read the last run.
	o.mu.Lock()
	o.state = StateIdle
	o.mu.Unlock()
	return nil
}

// Run drives the full hook sequence over a bundle: resolve, start,
// generate, write. It is the entry point for the CLI and the web
// server.
func (o *Orchestrator) Run(ctx context.Context, b *bundle.Bundle, mode Mode, outDir string) error {
	o.ConfigResolved(mode)
	if err := o.BuildStart(ctx); err != nil {
		return err
	}
	if err := o.GenerateBundle(ctx, b); err != nil {
		return err
	}
	return o.WriteBundle(outDir)
}
