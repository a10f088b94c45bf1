package pipeline

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderReport writes a human-readable per-file table plus a summary
// line for a finished build.
func RenderReport(w io.Writer, bc *BuildContext) {
	records := bc.Records()
	if len(records) == 0 {
		fmt.Fprintln(w, "No assets were optimized.")
		return
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SourcePath < records[j].SourcePath
	})

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Asset", "Output", "Original", "Compressed", "Saved", "Format", "Time"})
	var origTotal, compTotal int64
	for _, r := range records {
		saved := fmt.Sprintf("%.1f%%", (1-r.Ratio)*100)
		t.AppendRow(table.Row{
			r.SourcePath,
			r.OutputPath,
			humanize.Bytes(uint64(r.OriginalSize)),
			humanize.Bytes(uint64(r.CompressedSize)),
			saved,
			r.Format,
			r.Elapsed.Round(time.Millisecond),
		})
		origTotal += r.OriginalSize
		compTotal += r.CompressedSize
	}
	t.AppendFooter(table.Row{
		"Total", "",
		humanize.Bytes(uint64(origTotal)),
		humanize.Bytes(uint64(compTotal)),
		fmt.Sprintf("%.1f%%", float64(origTotal-compTotal)*100/float64(origTotal)),
		"", "",
	})
	t.SetStyle(table.StyleLight)
	t.Render()

	if renames := bc.Renames(); len(renames) > 0 {
		fmt.Fprintf(w, "\nTranscoded assets (%d):\n", len(renames))
		for _, ren := range renames {
			fmt.Fprintf(w, "  %s -> %s\n", ren.From, ren.To)
		}
	}
}
