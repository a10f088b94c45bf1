package analyzer

import (
	"bytes"
	"strings"

	"github.com/rwcarlsen/goexif/exif"

	"asset-optimizer-go/internal/codec"
)

// IsMarkedOptimized reports whether a jpeg already carries the
// optimizer's Software marker, meaning an earlier build produced it.
// Non-jpeg inputs and any EXIF read failure count as unmarked.
func IsMarkedOptimized(data []byte) bool {
	if f, err := codec.DetectFormat(data); err != nil || f != codec.FormatJPEG {
		return false
	}
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Software)
	if err != nil {
		return false
	}
	val, err := tag.StringVal()
	if err != nil {
		return false
	}
	return strings.Contains(val, codec.SoftwareMarker)
}
