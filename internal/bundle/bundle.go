// Package bundle models the in-memory map of output filename to
// asset record that a host bundler exposes during its generate-bundle
// phase, plus directory load/write helpers for driving the pipeline
// over an already-built output tree.
package bundle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind distinguishes emitted chunks (code and other text artifacts)
// from opaque assets.
type Kind int

const (
	KindAsset Kind = iota
	KindChunk
)

// Asset is one entry of the bundle output map.
type Asset struct {
	Name string // output-relative path, forward slashes
	Data []byte
	Kind Kind
}

// Bundle is an ordered collection of assets keyed by name. Order is
// preserved across renames so output listings stay stable.
type Bundle struct {
	names  []string
	assets map[string]*Asset
}

// New returns an empty bundle.
func New() *Bundle {
	return &Bundle{assets: make(map[string]*Asset)}
}

// Add inserts or replaces an asset.
func (b *Bundle) Add(a *Asset) {
	if _, exists := b.assets[a.Name]; !exists {
		b.names = append(b.names, a.Name)
	}
	b.assets[a.Name] = a
}

// Get returns the asset under name.
func (b *Bundle) Get(name string) (*Asset, bool) {
	a, ok := b.assets[name]
	return a, ok
}

// Names returns asset names in insertion order.
func (b *Bundle) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Len returns the number of assets.
func (b *Bundle) Len() int { return len(b.names) }

// Rename moves an asset to a new name, keeping its position.
func (b *Bundle) Rename(from, to string) error {
	a, ok := b.assets[from]
	if !ok {
		return fmt.Errorf("rename %s: asset not found", from)
	}
	if _, taken := b.assets[to]; taken {
		return fmt.Errorf("rename %s: %s already exists", from, to)
	}
	delete(b.assets, from)
	a.Name = to
	b.assets[to] = a
	for i, n := range b.names {
		if n == from {
			b.names[i] = to
			break
		}
	}
	return nil
}

var textExts = map[string]struct{}{
	".js": {}, ".mjs": {}, ".cjs": {}, ".jsx": {}, ".ts": {}, ".tsx": {},
	".css": {}, ".html": {}, ".htm": {}, ".svg": {}, ".json": {},
	".map": {}, ".txt": {}, ".xml": {}, ".webmanifest": {}, ".md": {},
}

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}, ".avif": {},
	".gif": {}, ".tif": {}, ".tiff": {},
}

// IsText reports whether name is a code/markup/stylesheet-like
// artifact whose references are patched during the rewrite pass.
func IsText(name string) bool {
	_, ok := textExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// IsImage reports whether name looks like an image asset the
// pipeline should consider.
func IsImage(name string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// LoadDir reads a built output tree into a bundle. Names are
// root-relative with forward slashes, sorted for deterministic
// processing.
func LoadDir(root string) (*Bundle, error) {
	b := New()
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.ToSlash(rel)
		kind := KindAsset
		if IsText(name) {
			kind = KindChunk
		}
		b.Add(&Asset{Name: name, Data: data, Kind: kind})
	}
	return b, nil
}

// WriteDir writes every asset back under root, creating directories
// as needed. Assets that were renamed leave no file under their old
// name; the caller removes stale files if it reuses a directory.
func (b *Bundle) WriteDir(root string) error {
	for _, name := range b.names {
		a := b.assets[name]
		path := filepath.Join(root, filepath.FromSlash(a.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create dir for %s: %w", a.Name, err)
		}
		if err := os.WriteFile(path, a.Data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", a.Name, err)
		}
	}
	return nil
}
