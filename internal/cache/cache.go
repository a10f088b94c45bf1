// Package cache persists compressed assets keyed by content and
// options so unchanged inputs are never recompressed across builds.
package cache

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"asset-optimizer-go/internal/codec"
)

// codecVersion participates in every key, so upgrading the encoders
// invalidates prior entries instead of silently serving stale bytes.
// Bump it whenever a backend change can alter output for identical
// inputs.
const codecVersion = "v1"

// Cache is a flat directory of files named <hex-digest>.<ext>.
// Presence of a path is the only metadata; the key already encodes
// every input that matters. A race between two builds storing the
// same key is harmless because the content is equivalent.
type Cache struct {
	dir string
	log *logrus.Logger
}

// New opens (creating if needed) a cache rooted at dir. The directory
// should live outside the build output so clean builds still hit.
func New(dir string, log *logrus.Logger) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir, log: log}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// Key derives the content-addressed fingerprint for one compression:
// a blake3 digest over the codec version, the raw asset bytes, the
// canonical serialization of the effective options and the target size
// budget (0 when no budget applies). The budget participates because a
// budget search emits different bytes for the same base options. Build
// metadata such as the asset's path never participates, so moving a
// file without changing its content still hits.
func Key(data []byte, opts codec.Options, targetBytes int) string {
	h := blake3.New()
	h.Write([]byte(codecVersion))
	h.Write([]byte{0})
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(opts.Canonical()))
	h.Write([]byte{0})
	fmt.Fprintf(h, "t=%d", targetBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the cached bytes for key, or ok=false on a miss.
// Any read error degrades to a miss.
func (c *Cache) Lookup(key, ext string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key, ext))
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Debugf("Cache read failed, treating as miss: %v", err)
		}
		return nil, false
	}
	return data, true
}

// Store writes compressed bytes under key. The write goes through a
// temp file and rename so a crashed build never leaves a truncated
// entry behind.
func (c *Cache) Store(key, ext string, data []byte) error {
	final := c.path(key, ext)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry, keeping the directory itself.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("remove cache entry %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Stats reports the entry count and total size on disk.
func (c *Cache) Stats() (entries int, totalBytes int64, err error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range dirEntries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		entries++
		totalBytes += info.Size()
	}
	return entries, totalBytes, nil
}

func (c *Cache) path(key, ext string) string {
	return filepath.Join(c.dir, key+"."+strings.TrimPrefix(ext, "."))
}
