package cache

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-optimizer-go/internal/codec"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)
	return c
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("", testLogger())
	require.Error(t, err)
}

func TestNewCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	c, err := New(dir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, dir, c.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestKeySensitivity(t *testing.T) {
	data := []byte("the same image bytes")
	opts := codec.Options{Format: codec.FormatWebP, Quality: 80}
	base := Key(data, opts, 0)

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, base, Key(data, opts, 0))
	})

	t.Run("content changes the key", func(t *testing.T) {
		assert.NotEqual(t, base, Key([]byte("different image bytes"), opts, 0))
	})

	t.Run("options change the key", func(t *testing.T) {
		other := opts
		other.Quality = 60
		assert.NotEqual(t, base, Key(data, other, 0))
	})

	t.Run("target budget changes the key", func(t *testing.T) {
		assert.NotEqual(t, base, Key(data, opts, 100*1024))
		assert.NotEqual(t, Key(data, opts, 100*1024), Key(data, opts, 200*1024))
	})

	t.Run("hex encoded", func(t *testing.T) {
		assert.Len(t, base, 64)
		assert.Regexp(t, "^[0-9a-f]+$", base)
	})
}

func TestStoreLookupRoundtrip(t *testing.T) {
	c := newTestCache(t)
	key := Key([]byte("image bytes"), codec.Options{Format: codec.FormatWebP, Quality: 80}, 0)

	_, hit := c.Lookup(key, "webp")
	assert.False(t, hit)

	compressed := []byte("compressed output")
	require.NoError(t, c.Store(key, "webp", compressed))

	got, hit := c.Lookup(key, "webp")
	require.True(t, hit)
	assert.Equal(t, compressed, got)

	// Same key under a different extension is a distinct entry.
	_, hit = c.Lookup(key, "png")
	assert.False(t, hit)
}

func TestClear(t *testing.T) {
	c := newTestCache(t)
	key := Key([]byte("data"), codec.Options{}, 0)
	require.NoError(t, c.Store(key, "png", []byte("x")))

	entries, _, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, entries)

	require.NoError(t, c.Clear())

	entries, totalBytes, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, entries)
	assert.Zero(t, totalBytes)

	_, hit := c.Lookup(key, "png")
	assert.False(t, hit)
}

func TestStats(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store(Key([]byte("a"), codec.Options{}, 0), "png", []byte("1234")))
	require.NoError(t, c.Store(Key([]byte("b"), codec.Options{}, 0), "jpg", []byte("123456")))

	entries, totalBytes, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, entries)
	assert.Equal(t, int64(10), totalBytes)
}
