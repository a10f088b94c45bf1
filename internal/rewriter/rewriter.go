// Package rewriter applies a build's compression results to the
// bundle: byte replacement behind a strict size gate, extension
// renames for transcoded assets, and a single patch pass fixing every
// textual reference to a renamed file.
package rewriter

import (
	"bytes"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"asset-optimizer-go/internal/bundle"
	"asset-optimizer-go/internal/codec"
)

// Mutation is one asset's pending compression outcome.
type Mutation struct {
	Name   string
	Data   []byte // compressed bytes
	Format codec.Format

	// Transcode marks that cross-format output was explicitly
	// enabled, making a rename legal when the format changed.
	Transcode bool

	// PreserveOriginal keeps the original bytes in the bundle under
	// the old name after a rename.
	PreserveOriginal bool
}

// RenameEntry records a filename change applied during the pass.
type RenameEntry struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Result summarizes one rewrite pass.
type Result struct {
	Replaced      int
	Skipped       int // compressed output failed to shrink the asset
	Renames       []RenameEntry
	PatchedChunks int
}

// Rewriter mutates a bundle once per build, strictly after all
// compression outcomes are known.
type Rewriter struct {
	log *logrus.Logger
}

// New returns a Rewriter.
func New(log *logrus.Logger) *Rewriter {
	return &Rewriter{log: log}
}

// Apply performs the rewrite pass. After it returns, no text artifact
// in the bundle contains any renamed-from filename.
func (r *Rewriter) Apply(b *bundle.Bundle, muts []Mutation) (*Result, error) {
	res := &Result{}

	for _, m := range muts {
		asset, ok := b.Get(m.Name)
		if !ok {
			r.log.Warnf("Rewrite: asset %s no longer in bundle, skipping", m.Name)
			continue
		}
		if len(m.Data) >= len(asset.Data) {
			r.log.Debugf("Rewrite: %s did not shrink (%d >= %d), keeping original",
				m.Name, len(m.Data), len(asset.Data))
			res.Skipped++
			continue
		}

		original := asset.Data
		asset.Data = m.Data
		res.Replaced++

		if !m.Transcode {
			continue
		}
		newExt := codec.Ext(m.Format)
		oldExt := strings.TrimPrefix(strings.ToLower(filepath.Ext(m.Name)), ".")
		if newExt == oldExt || (newExt == "jpg" && oldExt == "jpeg") {
			continue
		}
		to := strings.TrimSuffix(m.Name, filepath.Ext(m.Name)) + "." + newExt
		if err := b.Rename(m.Name, to); err != nil {
			r.log.Warnf("Rewrite: rename %s -> %s failed: %v", m.Name, to, err)
			continue
		}
		if m.PreserveOriginal {
			b.Add(&bundle.Asset{Name: m.Name, Data: original, Kind: bundle.KindAsset})
		}
		res.Renames = append(res.Renames, RenameEntry{From: m.Name, To: to})
	}

	if len(res.Renames) > 0 {
		res.PatchedChunks = r.patchReferences(b, res.Renames)
	}
	return res, nil
}

// patchReferences replaces every occurrence of a renamed-from name in
// every text artifact. Longer names are substituted first so one
// rename cannot corrupt another whose from-name it contains. Binary
// artifacts are never touched.
func (r *Rewriter) patchReferences(b *bundle.Bundle, renames []RenameEntry) int {
	ordered := make([]RenameEntry, len(renames))
	copy(ordered, renames)
	sort.Slice(ordered, func(i, j int) bool {
		return len(ordered[i].From) > len(ordered[j].From)
	})

	occurrences := make(map[string]int, len(ordered))
	patched := 0
	for _, name := range b.Names() {
		asset, ok := b.Get(name)
		if !ok || !bundle.IsText(asset.Name) {
			continue
		}
		changed := false
		data := asset.Data
		for _, ren := range ordered {
			from := []byte(ren.From)
			if n := bytes.Count(data, from); n > 0 {
				data = bytes.ReplaceAll(data, from, []byte(ren.To))
				occurrences[ren.From] += n
				changed = true
			}
		}
		if changed {
			asset.Data = data
			patched++
		}
	}

	// A rename nobody referenced is harmless but worth surfacing:
	// under correct operation every emitted asset is reachable.
	for _, ren := range ordered {
		if occurrences[ren.From] == 0 {
			r.log.Warnf("Rewrite: no references to %s found in any text artifact", ren.From)
		}
	}
	return patched
}
