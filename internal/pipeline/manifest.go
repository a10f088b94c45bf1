package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFilename is the fixed name of the per-build manifest.
const ManifestFilename = "asset-manifest.json"

// ManifestVersion identifies the manifest schema.
const ManifestVersion = "1"

// Manifest summarizes one build's optimizations.
type Manifest struct {
	Version   string                  `json:"version"`
	BuildID   string                  `json:"buildId"`
	Timestamp time.Time               `json:"timestamp"`
	Files     map[string]ManifestFile `json:"files"`
	Renames   []ManifestRename        `json:"renames,omitempty"`
	Summary   ManifestSummary         `json:"summary"`
}

// ManifestFile records one asset's before/after sizes.
type ManifestFile struct {
	Output     string  `json:"output"`
	Original   int64   `json:"original"`
	Compressed int64   `json:"compressed"`
	Ratio      float64 `json:"ratio"`
	Format     string  `json:"format"`
}

// ManifestRename records a transcode rename.
type ManifestRename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ManifestSummary aggregates the build.
type ManifestSummary struct {
	TotalFiles          int     `json:"totalFiles"`
	OriginalSize        int64   `json:"originalSize"`
	CompressedSize      int64   `json:"compressedSize"`
	TotalSavings        int64   `json:"totalSavings"`
	AverageRatio        float64 `json:"averageRatio"`
	TotalProcessingTime int64   `json:"totalProcessingTimeMs"`
}

// BuildManifest assembles the manifest from a finished build context.
func BuildManifest(bc *BuildContext) *Manifest {
	records := bc.Records()
	m := &Manifest{
		Version:   ManifestVersion,
		BuildID:   bc.ID,
		Timestamp: time.Now().UTC(),
		Files:     make(map[string]ManifestFile, len(records)),
	}
	for _, ren := range bc.Renames() {
		m.Renames = append(m.Renames, ManifestRename{From: ren.From, To: ren.To})
	}

	var ratioSum float64
	for _, r := range records {
		m.Files[r.SourcePath] = ManifestFile{
			Output:     r.OutputPath,
			Original:   r.OriginalSize,
			Compressed: r.CompressedSize,
			Ratio:      r.Ratio,
			Format:     string(r.Format),
		}
		m.Summary.TotalFiles++
		m.Summary.OriginalSize += r.OriginalSize
		m.Summary.CompressedSize += r.CompressedSize
		m.Summary.TotalProcessingTime += r.Elapsed.Milliseconds()
		ratioSum += r.Ratio
	}
	m.Summary.TotalSavings = m.Summary.OriginalSize - m.Summary.CompressedSize
	if m.Summary.TotalFiles > 0 {
		m.Summary.AverageRatio = ratioSum / float64(m.Summary.TotalFiles)
	}
	return m
}

// ManifestPath returns where the manifest lives for a given output
// directory.
func ManifestPath(outDir string) string {
	return filepath.Join(outDir, ManifestFilename)
}

// WriteManifest serializes the manifest into the output directory.
func WriteManifest(outDir string, bc *BuildContext) error {
	m := BuildManifest(bc)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(ManifestPath(outDir), data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
