package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"asset-optimizer-go/internal/analyzer"
	"asset-optimizer-go/internal/bundle"
	"asset-optimizer-go/internal/cache"
	"asset-optimizer-go/internal/codec"
	"asset-optimizer-go/internal/config"
	"asset-optimizer-go/internal/logger"
	"asset-optimizer-go/internal/pipeline"
	"asset-optimizer-go/internal/smart"
	"asset-optimizer-go/internal/web"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	sourceDir  string
	outputDir  string
	quality    int
	format     string
	transcode  bool
	targetSize string
	devMode    bool
	dryRun     bool
	verbose    bool
	quiet      bool
	version    string
	buildTime  string
	port       int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "asset-optimizer [directory]",
	Short: "Optimize image assets in a built bundle directory",
	Long: `AssetOptimizer compresses the image assets of a built bundle, patches
references in text artifacts when outputs change extension, and emits a
manifest describing every optimized file.

Features:
- Backend chain with graceful degradation (native tools, pure Go, re-encode)
- Target-size search that lowers quality until a byte budget fits
- Content-addressed cache so unchanged inputs never recompress
- Smaller-only guarantee: outputs never grow
- Reference patching keeps transcoded assets reachable`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOptimize(args)
	},
}

// analyzeCmd inspects a single image and prints recommendations.
var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze an image and show recommended compression settings",
	Long: `Analyzes a single image file and prints its characteristics along with
the format and quality the pipeline would choose for it. Useful for
understanding why an asset was transcoded the way it was.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(args[0])
	},
}

// smartCmd compresses a single file toward a byte budget.
var smartCmd = &cobra.Command{
	Use:   "smart <file>",
	Short: "Compress a single file toward a target size",
	Long: `Compresses one image, lowering quality step by step until the output
fits the requested byte budget. The budget accepts plain byte counts or
human-readable sizes such as "100kb". If the budget cannot be reached
the smallest attempt is written anyway.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSmart(args[0])
	},
}

// cacheCmd groups cache maintenance commands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the compression cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count and size on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheStats()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheClear()
	},
}

// serveCmd starts the status server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server",
	Long: `Starts an HTTP server exposing the pipeline. The API lets you start
an optimization run over a directory, query statistics and the cache,
and follow progress over a websocket at /ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVar(&sourceDir, "source", "", "bundle directory containing built assets")
	rootCmd.Flags().StringVar(&outputDir, "out", "", "output directory (default: optimize in place)")
	rootCmd.Flags().IntVar(&quality, "quality", 0, "compression quality 1-100 (default from config)")
	rootCmd.Flags().StringVar(&format, "format", "", "target format: auto, webp, jpeg, png, avif")
	rootCmd.Flags().BoolVar(&transcode, "transcode", false, "allow cross-format output with renames")
	rootCmd.Flags().StringVar(&targetSize, "target-size", "", "per-asset byte budget, e.g. 100kb")
	rootCmd.Flags().BoolVar(&devMode, "dev", false, "run with the development environment rules")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compress and report without writing files")

	smartCmd.Flags().StringVar(&targetSize, "target-size", "100kb", "byte budget, e.g. 100kb")
	smartCmd.Flags().StringVar(&outputDir, "out", "", "output path (default: alongside the input)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run the status server on")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(smartCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.asset-optimizer")
		viper.AddConfigPath("/etc/asset-optimizer")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runOptimize executes the full pipeline over a bundle directory.
func runOptimize(args []string) error {
	cfg, src, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	b, err := bundle.LoadDir(src)
	if err != nil {
		return fmt.Errorf("failed to load bundle: %w", err)
	}
	log.Infof("Loaded %d files from %s", b.Len(), src)

	orch, err := pipeline.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	mode := pipeline.ModeProduction
	if devMode {
		mode = pipeline.ModeDevelopment
	}

	ctx := context.Background()
	orch.ConfigResolved(mode)
	if err := orch.BuildStart(ctx); err != nil {
		return fmt.Errorf("build start failed: %w", err)
	}
	if err := orch.GenerateBundle(ctx, b); err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}

	out := cfg.OutputDir
	if out == "" {
		out = src
	}

	if !dryRun {
		if err := b.WriteDir(out); err != nil {
			return fmt.Errorf("failed to write bundle: %w", err)
		}
		if err := orch.WriteBundle(out); err != nil {
			return fmt.Errorf("failed to finish build: %w", err)
		}
	}

	if bc := orch.Build(); bc != nil && !quiet {
		pipeline.RenderReport(os.Stdout, bc)
		fmt.Println("\n" + bc.Stats.GetSummary())
		if len(bc.Stats.Errors) > 0 {
			fmt.Println("\n" + bc.Stats.GetErrorSummary())
		}
	}

	return nil
}

// runAnalyze prints the analysis for a single image file.
func runAnalyze(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	a, err := analyzer.Analyze(data)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	fmt.Printf("File: %s (%s)\n", filePath, humanize.Bytes(uint64(len(data))))
	fmt.Printf("Format: %s\n", a.Format)
	fmt.Printf("Dimensions: %dx%d\n", a.Width, a.Height)
	fmt.Printf("Alpha channel: %v\n", a.HasAlpha)
	fmt.Printf("Color count (sampled): %d\n", a.ColorCount)
	fmt.Printf("Complexity: %.2f\n", a.Complexity)
	fmt.Printf("Recommended format: %s\n", a.RecommendedFormat)
	fmt.Printf("Recommended quality: %d\n", a.RecommendedQuality)
	fmt.Printf("Estimated savings: %.0f%%\n", a.EstimatedSavings*100)

	if analyzer.IsMarkedOptimized(data) {
		fmt.Println("Note: this file is marked as already optimized and would be skipped")
	}

	return nil
}

// runSmart compresses one file toward the requested byte budget.
func runSmart(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	budget, err := smart.ParseTargetSize(targetSize)
	if err != nil {
		return fmt.Errorf("invalid target size: %w", err)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	log := setupLogger(cfg)

	chain := codec.DefaultChain(log, cfg.PreserveMetadata)
	chain.Warmup(context.Background())

	opts := codec.Options{
		Format:    codec.FormatAuto,
		Transcode: transcode,
	}
	if format != "" {
		opts.Format = codec.Format(format)
	}

	res, err := smart.New(chain, log).Optimize(context.Background(), data, opts, budget)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	outPath := outputDir
	if outPath == "" {
		ext := "." + codec.Ext(res.Format)
		base := filePath[:len(filePath)-len(filepath.Ext(filePath))]
		outPath = base + ".optimized" + ext
	}
	if err := os.WriteFile(outPath, res.Data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	fmt.Printf("Wrote %s\n", outPath)
	fmt.Printf("  %s -> %s (%.1f%% of original, backend %s, %v)\n",
		humanize.Bytes(uint64(res.OriginalSize)),
		humanize.Bytes(uint64(res.CompressedSize)),
		res.Ratio*100,
		res.Backend,
		res.Elapsed.Round(time.Millisecond))
	if res.CompressedSize > budget {
		fmt.Printf("  Budget of %s not reached; this is the smallest attempt\n",
			humanize.Bytes(uint64(budget)))
	}

	return nil
}

// runCacheStats prints cache usage.
func runCacheStats() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	c, err := cache.New(cfg.Cache.Dir, setupLogger(cfg))
	if err != nil {
		return fmt.Errorf("cache unavailable: %w", err)
	}

	entries, totalBytes, err := c.Stats()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	fmt.Printf("Cache directory: %s\n", c.Dir())
	fmt.Printf("Entries: %d\n", entries)
	fmt.Printf("Size on disk: %s\n", humanize.Bytes(uint64(totalBytes)))
	return nil
}

// runCacheClear removes every cache entry.
func runCacheClear() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	c, err := cache.New(cfg.Cache.Dir, setupLogger(cfg))
	if err != nil {
		return fmt.Errorf("cache unavailable: %w", err)
	}

	if err := c.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Printf("Cache cleared: %s\n", c.Dir())
	return nil
}

// runServe starts the status server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}

	log := setupLogger(cfg)
	server := web.NewServer(cfg, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("AssetOptimizer status server started on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// loadConfig loads configuration and applies CLI overrides. The
// bundle directory comes from --source, the first positional
// argument, or the current directory, in that order.
func loadConfig(args []string) (*config.Config, string, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, "", err
	}

	if quality != 0 {
		cfg.Quality = quality
	}
	if format != "" {
		cfg.Format = format
	}
	if transcode {
		cfg.Transcode = true
	}
	if targetSize != "" {
		cfg.TargetSize = targetSize
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	src := sourceDir
	if src == "" && len(args) > 0 {
		src = args[0]
	}
	if src == "" {
		src = "."
	}

	if !dirExists(src) {
		return nil, "", fmt.Errorf("bundle directory does not exist: %s", src)
	}

	return cfg, src, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func main() {
	if version != "" {
		rootCmd.Version = version
		if buildTime != "" {
			rootCmd.SetVersionTemplate(fmt.Sprintf("asset-optimizer %s (built %s)\n", version, buildTime))
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
