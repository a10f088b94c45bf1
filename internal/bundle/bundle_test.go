package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddGetNames(t *testing.T) {
	b := New()
	b.Add(&Asset{Name: "img/a.png", Data: []byte("a")})
	b.Add(&Asset{Name: "main.js", Data: []byte("js"), Kind: KindChunk})
	b.Add(&Asset{Name: "img/b.jpg", Data: []byte("b")})

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []string{"img/a.png", "main.js", "img/b.jpg"}, b.Names())

	a, ok := b.Get("main.js")
	require.True(t, ok)
	assert.Equal(t, KindChunk, a.Kind)

	_, ok = b.Get("missing")
	assert.False(t, ok)
}

func TestAddReplacesInPlace(t *testing.T) {
	b := New()
	b.Add(&Asset{Name: "a.png", Data: []byte("old")})
	b.Add(&Asset{Name: "b.png", Data: []byte("b")})
	b.Add(&Asset{Name: "a.png", Data: []byte("new")})

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []string{"a.png", "b.png"}, b.Names())
	a, _ := b.Get("a.png")
	assert.Equal(t, []byte("new"), a.Data)
}

func TestRename(t *testing.T) {
	b := New()
	b.Add(&Asset{Name: "one.png", Data: []byte("1")})
	b.Add(&Asset{Name: "two.png", Data: []byte("2")})

	require.NoError(t, b.Rename("one.png", "one.webp"))

	// Position is preserved.
	assert.Equal(t, []string{"one.webp", "two.png"}, b.Names())

	_, ok := b.Get("one.png")
	assert.False(t, ok)
	a, ok := b.Get("one.webp")
	require.True(t, ok)
	assert.Equal(t, "one.webp", a.Name)
	assert.Equal(t, []byte("1"), a.Data)
}

func TestRenameErrors(t *testing.T) {
	b := New()
	b.Add(&Asset{Name: "a.png", Data: []byte("a")})
	b.Add(&Asset{Name: "b.png", Data: []byte("b")})

	assert.Error(t, b.Rename("missing.png", "x.webp"))
	assert.Error(t, b.Rename("a.png", "b.png"))
}

func TestIsText(t *testing.T) {
	for _, name := range []string{"main.js", "chunk.mjs", "app.css", "index.html", "icon.svg", "data.JSON", "bundle.js.map"} {
		assert.True(t, IsText(name), name)
	}
	for _, name := range []string{"photo.png", "photo.jpg", "archive.zip", "font.woff2", "noext"} {
		assert.False(t, IsText(name), name)
	}
}

func TestIsImage(t *testing.T) {
	for _, name := range []string{"a.png", "b.JPG", "c.jpeg", "d.webp", "e.avif", "f.gif", "g.tiff"} {
		assert.True(t, IsImage(name), name)
	}
	for _, name := range []string{"a.svg", "b.js", "c.ico", "d.bmp"} {
		assert.False(t, IsImage(name), name)
	}
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.js"), []byte("code"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "assets", "hero.png"), []byte("png"), 0644))

	b, err := LoadDir(root)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())

	img, ok := b.Get("assets/hero.png")
	require.True(t, ok)
	assert.Equal(t, KindAsset, img.Kind)
	assert.Equal(t, []byte("png"), img.Data)

	js, ok := b.Get("main.js")
	require.True(t, ok)
	assert.Equal(t, KindChunk, js.Kind)
}

func TestWriteDirRoundtrip(t *testing.T) {
	b := New()
	b.Add(&Asset{Name: "sub/deep/a.png", Data: []byte("a")})
	b.Add(&Asset{Name: "index.html", Data: []byte("<html>"), Kind: KindChunk})

	out := t.TempDir()
	require.NoError(t, b.WriteDir(out))

	got, err := os.ReadFile(filepath.Join(out, "sub", "deep", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	loaded, err := LoadDir(out)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
}
