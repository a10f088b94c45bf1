package config

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 80, cfg.Quality)
	assert.Equal(t, "auto", cfg.Format)
	assert.False(t, cfg.Transcode)
	assert.True(t, cfg.Build.Enabled)
	assert.False(t, cfg.Dev.Enabled)
	assert.Equal(t, 60, cfg.Dev.Quality)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, ".asset-optimizer-cache", cfg.Cache.Dir)
	assert.True(t, cfg.GenerateManifest)
	assert.Equal(t, runtime.NumCPU(), cfg.Performance.Workers)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"quality too low", func(c *Config) { c.Quality = 0 }, true},
		{"quality too high", func(c *Config) { c.Quality = 101 }, true},
		{"dev quality out of range", func(c *Config) { c.Dev.Quality = 150 }, true},
		{"dev quality zero means inherit", func(c *Config) { c.Dev.Quality = 0 }, false},
		{"invalid format", func(c *Config) { c.Format = "bmp" }, true},
		{"gif is not a target format", func(c *Config) { c.Format = "gif" }, true},
		{"valid webp format", func(c *Config) { c.Format = "webp" }, false},
		{"invalid fit", func(c *Config) { c.Resize.Fit = "stretch" }, true},
		{"negative resize", func(c *Config) { c.Resize.MaxWidth = -1 }, true},
		{"bad include glob", func(c *Config) { c.Include = []string{"[unclosed"} }, true},
		{"bad exclude glob", func(c *Config) { c.Exclude = []string{"[unclosed"} }, true},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"silent log level", func(c *Config) { c.Logging.Level = "silent" }, false},
		{"port out of range", func(c *Config) { c.Web.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = ""
	cfg.Resize.Fit = ""
	cfg.Performance.Workers = 0
	cfg.Cache.Dir = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "auto", cfg.Format)
	assert.Equal(t, "contain", cfg.Resize.Fit)
	assert.Equal(t, runtime.NumCPU(), cfg.Performance.Workers)
	assert.Equal(t, ".asset-optimizer-cache", cfg.Cache.Dir)
}

func TestFormatConflicts(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.FormatConflicts())

	cfg.Format = "webp"
	assert.True(t, cfg.FormatConflicts())

	cfg.Transcode = true
	assert.False(t, cfg.FormatConflicts())
}

func TestEffectiveQuality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quality = 85
	cfg.Dev.Quality = 50

	assert.Equal(t, 85, cfg.EffectiveQuality(false))
	assert.Equal(t, 50, cfg.EffectiveQuality(true))

	cfg.Dev.Quality = 0
	assert.Equal(t, 85, cfg.EffectiveQuality(true))
}

func TestEnabledFor(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.EnabledFor(false))
	assert.False(t, cfg.EnabledFor(true))

	cfg.Dev.Enabled = true
	cfg.Build.Enabled = false
	assert.False(t, cfg.EnabledFor(false))
	assert.True(t, cfg.EnabledFor(true))
}

func TestCompileGlobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Include = []string{"*.png", "assets/*"}
	cfg.Exclude = []string{"*.thumb.png"}

	include, exclude, err := cfg.CompileGlobs()
	require.NoError(t, err)
	assert.Len(t, include, 2)
	assert.Len(t, exclude, 1)

	assert.True(t, include[0].Match("hero.png"))
	assert.True(t, exclude[0].Match("hero.thumb.png"))
}
