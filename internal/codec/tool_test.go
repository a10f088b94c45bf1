package codec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolBackendProbe(t *testing.T) {
	b := NewToolBackend(testLogger(), false)
	// Probe never panics regardless of what is installed; a bare
	// environment reports the backend unavailable.
	if err := b.Probe(context.Background()); err != nil {
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	}
}

func TestToolBackendRejectsGarbage(t *testing.T) {
	b := NewToolBackend(testLogger(), false)
	_, err := b.Compress(context.Background(), []byte("not an image"), Options{})
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestCarryMetadataStampsSoftwareMarker(t *testing.T) {
	if _, err := exec.LookPath("exiftool"); err != nil {
		t.Skip("exiftool not installed")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")
	jpg := encodeJPEG(t, makeTestImage(16, 16, false), 90)
	require.NoError(t, os.WriteFile(src, jpg, 0644))
	require.NoError(t, os.WriteFile(dst, jpg, 0644))

	b := NewToolBackend(testLogger(), true)
	require.NoError(t, b.carryMetadata(src, dst))

	stamped, err := os.ReadFile(dst)
	require.NoError(t, err)

	x, err := exif.Decode(bytes.NewReader(stamped))
	require.NoError(t, err)
	tag, err := x.Get(exif.Software)
	require.NoError(t, err)
	val, err := tag.StringVal()
	require.NoError(t, err)
	assert.True(t, strings.Contains(val, SoftwareMarker), val)
}

func TestCarryMetadataMissingSource(t *testing.T) {
	if _, err := exec.LookPath("exiftool"); err != nil {
		t.Skip("exiftool not installed")
	}

	b := NewToolBackend(testLogger(), true)
	err := b.carryMetadata(filepath.Join(t.TempDir(), "missing.jpg"), filepath.Join(t.TempDir(), "dst.jpg"))
	require.Error(t, err)
}
