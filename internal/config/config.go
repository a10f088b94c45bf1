package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/viper"

	"asset-optimizer-go/internal/codec"
)

// Config is the full configuration surface of the optimization
// pipeline.
type Config struct {
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`

	Quality int    `mapstructure:"quality"`
	Format  string `mapstructure:"format"`

	// Transcode explicitly enables cross-format output. Without it a
	// non-auto Format is ignored with a warning.
	Transcode        bool   `mapstructure:"transcode"`
	PreserveOriginal bool   `mapstructure:"preserve_original"`
	PreserveMetadata bool   `mapstructure:"preserve_metadata"`
	TargetSize       string `mapstructure:"target_size"` // e.g. "100kb"; empty disables budget search

	Resize   ResizeConfig   `mapstructure:"resize"`
	Optimize OptimizeConfig `mapstructure:"optimize"`

	OutputDir        string `mapstructure:"output_dir"`
	GenerateManifest bool   `mapstructure:"generate_manifest"`

	Dev   DevConfig   `mapstructure:"dev"`
	Build BuildConfig `mapstructure:"build"`
	Cache CacheConfig `mapstructure:"cache"`

	Performance PerformanceConfig `mapstructure:"performance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Web         WebConfig         `mapstructure:"web"`
}

// ResizeConfig bounds output dimensions.
type ResizeConfig struct {
	MaxWidth  int    `mapstructure:"max_width"`
	MaxHeight int    `mapstructure:"max_height"`
	Fit       string `mapstructure:"fit"` // contain, cover, fill
}

// OptimizeConfig holds format-level optimization switches.
type OptimizeConfig struct {
	Colors      bool `mapstructure:"colors"`
	Progressive bool `mapstructure:"progressive"`
	Lossless    bool `mapstructure:"lossless"`
}

// DevConfig gates and tunes development builds.
type DevConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Quality int  `mapstructure:"quality"`
}

// BuildConfig gates production builds.
type BuildConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CacheConfig controls the content-addressed cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// PerformanceConfig contains performance tuning settings.
type PerformanceConfig struct {
	Workers int `mapstructure:"workers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"` // silent, error, warn, info, debug
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// WebConfig contains status server settings.
type WebConfig struct {
	Port int `mapstructure:"port"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Include: []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.tiff", "*.avif"},
		Exclude: []string{},
		Quality: codec.DefaultQuality,
		Format:  string(codec.FormatAuto),
		Resize: ResizeConfig{
			Fit: string(codec.FitContain),
		},
		GenerateManifest: true,
		Dev: DevConfig{
			Enabled: false,
			Quality: 60,
		},
		Build: BuildConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".asset-optimizer-cache",
		},
		Performance: PerformanceConfig{
			Workers: runtime.NumCPU(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
		Web: WebConfig{
			Port: 8080,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.asset-optimizer")
		viper.AddConfigPath("/etc/asset-optimizer")
	}

	viper.SetEnvPrefix("ASSET_OPTIMIZER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks and normalizes the configuration. Defaulting rules
// live here and nowhere else.
func (c *Config) Validate() error {
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be in [1,100], got %d", c.Quality)
	}
	if c.Dev.Quality != 0 && (c.Dev.Quality < 1 || c.Dev.Quality > 100) {
		return fmt.Errorf("dev.quality must be in [1,100], got %d", c.Dev.Quality)
	}

	if c.Format == "" {
		c.Format = string(codec.FormatAuto)
	}
	if !codec.ValidFormat(c.Format) {
		return fmt.Errorf("invalid format: %s (valid: auto, webp, jpeg, png, avif)", c.Format)
	}

	switch codec.FitMode(c.Resize.Fit) {
	case codec.FitContain, codec.FitCover, codec.FitFill:
	case "":
		c.Resize.Fit = string(codec.FitContain)
	default:
		return fmt.Errorf("invalid resize fit: %s (valid: contain, cover, fill)", c.Resize.Fit)
	}
	if c.Resize.MaxWidth < 0 || c.Resize.MaxHeight < 0 {
		return fmt.Errorf("resize bounds must not be negative")
	}

	for _, pattern := range append(append([]string{}, c.Include...), c.Exclude...) {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
	}

	if c.Cache.Enabled && c.Cache.Dir == "" {
		c.Cache.Dir = ".asset-optimizer-cache"
	}

	if c.Performance.Workers <= 0 {
		c.Performance.Workers = runtime.NumCPU()
	}

	validLogLevels := map[string]bool{
		"silent": true,
		"error":  true,
		"warn":   true,
		"info":   true,
		"debug":  true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: silent, error, warn, info, debug)", c.Logging.Level)
	}

	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}

	return nil
}

// FormatConflicts reports whether a non-auto format was requested
// without enabling transcoding. The orchestrator warns and ignores
// the format in that case rather than silently transcoding.
func (c *Config) FormatConflicts() bool {
	return !c.Transcode && c.Format != string(codec.FormatAuto)
}

// EffectiveQuality returns the quality for the given environment,
// honoring the dev override.
func (c *Config) EffectiveQuality(development bool) int {
	if development && c.Dev.Quality != 0 {
		return c.Dev.Quality
	}
	return c.Quality
}

// EnabledFor reports whether the pipeline participates in the given
// environment at all.
func (c *Config) EnabledFor(development bool) bool {
	if development {
		return c.Dev.Enabled
	}
	return c.Build.Enabled
}

// CompileGlobs compiles the include and exclude patterns. Patterns
// use gobwas/glob syntax with '*' crossing path separators, so
// "*.png" matches images in any subdirectory.
func (c *Config) CompileGlobs() (include, exclude []glob.Glob, err error) {
	for _, p := range c.Include {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("compile include %q: %w", p, err)
		}
		include = append(include, g)
	}
	for _, p := range c.Exclude {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("compile exclude %q: %w", p, err)
		}
		exclude = append(exclude, g)
	}
	return include, exclude, nil
}
