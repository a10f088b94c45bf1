package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Statistics accumulates counters for one optimization build. A new
// instance is created per build so numbers never leak across builds.
type Statistics struct {
	AssetsFound     int64
	AssetsProcessed int64
	AssetsOptimized int64
	AssetsSkipped   int64
	AssetsExcluded  int64
	AssetsWithError int64

	CacheHits    int64
	CacheMisses  int64
	CacheHitRate float64

	BytesOriginal   int64
	BytesCompressed int64

	Renames       int64
	ChunksPatched int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Errors []StatError

	mutex sync.RWMutex

	BackendUsage map[string]int64
}

// StatError records an error that occurred while processing one asset.
type StatError struct {
	Asset     string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a fresh accumulator stamped with the current
// time.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:    time.Now(),
		BackendUsage: make(map[string]int64),
		Errors:       make([]StatError, 0),
	}
}

// IncrementAssetsFound increases the count of qualifying assets by 1.
func (s *Statistics) IncrementAssetsFound() {
	atomic.AddInt64(&s.AssetsFound, 1)
}

// IncrementAssetsProcessed increases the count of processed assets by 1.
func (s *Statistics) IncrementAssetsProcessed() {
	atomic.AddInt64(&s.AssetsProcessed, 1)
}

// IncrementAssetsOptimized increases the count of assets whose bytes
// were replaced by 1.
func (s *Statistics) IncrementAssetsOptimized() {
	atomic.AddInt64(&s.AssetsOptimized, 1)
}

// IncrementAssetsSkipped increases the count of assets kept as-is by 1.
func (s *Statistics) IncrementAssetsSkipped() {
	atomic.AddInt64(&s.AssetsSkipped, 1)
}

// IncrementAssetsExcluded increases the count of filtered-out assets by 1.
func (s *Statistics) IncrementAssetsExcluded() {
	atomic.AddInt64(&s.AssetsExcluded, 1)
}

// IncrementAssetsWithError increases the count of failed assets by 1.
func (s *Statistics) IncrementAssetsWithError() {
	atomic.AddInt64(&s.AssetsWithError, 1)
}

// IncrementCacheHits increases the cache hit count by 1.
func (s *Statistics) IncrementCacheHits() {
	atomic.AddInt64(&s.CacheHits, 1)
}

// IncrementCacheMisses increases the cache miss count by 1.
func (s *Statistics) IncrementCacheMisses() {
	atomic.AddInt64(&s.CacheMisses, 1)
}

// IncrementRenames increases the count of transcode renames by 1.
func (s *Statistics) IncrementRenames() {
	atomic.AddInt64(&s.Renames, 1)
}

// AddChunksPatched adds to the count of text artifacts patched during
// the rewrite pass.
func (s *Statistics) AddChunksPatched(n int64) {
	atomic.AddInt64(&s.ChunksPatched, n)
}

// AddBytes records one asset's original and final sizes.
func (s *Statistics) AddBytes(original, compressed int64) {
	atomic.AddInt64(&s.BytesOriginal, original)
	atomic.AddInt64(&s.BytesCompressed, compressed)
}

// IncrementBackendUsage counts which backend served an asset.
func (s *Statistics) IncrementBackendUsage(backend string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.BackendUsage[backend]++
}

// AddError records a per-asset error.
func (s *Statistics) AddError(asset, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Errors = append(s.Errors, StatError{
		Asset:     asset,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// UpdateCacheHitRate recomputes the hit rate from current counters.
func (s *Statistics) UpdateCacheHitRate() {
	hits := atomic.LoadInt64(&s.CacheHits)
	misses := atomic.LoadInt64(&s.CacheMisses)
	if total := hits + misses; total > 0 {
		s.CacheHitRate = float64(hits) / float64(total)
	}
}

// Finalize computes duration and derived rates. Call it once after
// the rewrite phase.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	s.UpdateCacheHitRate()
}

// SavingsPercent returns the overall byte reduction in percent.
func (s *Statistics) SavingsPercent() float64 {
	orig := atomic.LoadInt64(&s.BytesOriginal)
	comp := atomic.LoadInt64(&s.BytesCompressed)
	if orig == 0 {
		return 0
	}
	return float64(orig-comp) * 100 / float64(orig)
}

// GetSummary returns a formatted summary of the build.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`Asset Optimizer Statistics:

Assets:
		Found: %d
		Processed: %d
		Optimized: %d
		Skipped: %d
		Excluded: %d
		Errors: %d

Bytes:
		Original: %s
		Compressed: %s
		Savings: %.1f%%

Rewrite:
		Renames: %d
		Chunks Patched: %d

Cache:
		Hits: %d
		Misses: %d
		Hit Rate: %.2f%%

Performance:
		Duration: %v`,
		atomic.LoadInt64(&s.AssetsFound),
		atomic.LoadInt64(&s.AssetsProcessed),
		atomic.LoadInt64(&s.AssetsOptimized),
		atomic.LoadInt64(&s.AssetsSkipped),
		atomic.LoadInt64(&s.AssetsExcluded),
		atomic.LoadInt64(&s.AssetsWithError),
		humanize.Bytes(uint64(atomic.LoadInt64(&s.BytesOriginal))),
		humanize.Bytes(uint64(atomic.LoadInt64(&s.BytesCompressed))),
		s.SavingsPercent(),
		atomic.LoadInt64(&s.Renames),
		atomic.LoadInt64(&s.ChunksPatched),
		atomic.LoadInt64(&s.CacheHits),
		atomic.LoadInt64(&s.CacheMisses),
		s.CacheHitRate*100,
		s.Duration)
}

// GetErrorSummary returns a summary of per-asset errors.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}
	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Asset,
			err.Error)
	}
	return result
}

// GetBackendBreakdown returns which backend served how many assets.
func (s *Statistics) GetBackendBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.BackendUsage) == 0 {
		return "No backend statistics available"
	}
	result := "Backend Breakdown:\n"
	for backend, count := range s.BackendUsage {
		result += fmt.Sprintf("  %s: %d\n", backend, count)
	}
	return result
}
