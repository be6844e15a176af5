package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	shrinkarr "github.com/lkern/shrinkarr"
	"github.com/lkern/shrinkarr/internal/api"
	"github.com/lkern/shrinkarr/internal/bus"
	"github.com/lkern/shrinkarr/internal/classify"
	"github.com/lkern/shrinkarr/internal/config"
	"github.com/lkern/shrinkarr/internal/encode"
	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/ffmpeg"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/rules"
	"github.com/lkern/shrinkarr/internal/scan"
	"github.com/lkern/shrinkarr/internal/settings"
	"github.com/lkern/shrinkarr/internal/store"
	"github.com/lkern/shrinkarr/internal/watch"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file (default: ./config/shrinkarr.yaml)")
	port := flag.Int("port", 0, "Override HTTP port from config")
	dbPath := flag.String("db", "", "Override database path from config")
	logLevel := flag.String("log-level", "", "Override log level from config")
	flag.Parse()

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		// Check environment variable
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			// Default to ./config/shrinkarr.yaml
			cfgPath = "config/shrinkarr.yaml"
		}
	}

	// Load config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Initialize logger with default level for this warning
		logger.Init("info")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}

	// Initialize logger with configured level
	logger.Init(cfg.LogLevel)

	// Override with environment variables, then flags
	applyEnvOverrides(cfg)
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(cfg.LogLevel)

	fileMode, err := cfg.FileMode()
	if err != nil {
		logger.Error("Invalid output mode in config", "mode", cfg.Output.Mode, "error", err)
		os.Exit(1)
	}
	rescanEvery, err := cfg.RescanInterval()
	if err != nil {
		logger.Error("Invalid scan interval in config", "value", cfg.ScanInterval, "error", err)
		os.Exit(1)
	}

	// Without ffprobe nothing can be classified, so its absence is fatal.
	// A missing hardware encoder is not: files queue and encodes fail per
	// file until the host grows a capable GPU.
	if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
		logger.Error("ffprobe not found", "path", cfg.FFprobePath, "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Scratch(), 0o755); err != nil {
		logger.Error("Could not create scratch directory", "path", cfg.Scratch(), "error", err)
		os.Exit(1)
	}

	// Initialize SQLite store. Open migrates the schema and requeues any
	// file a previous run left in encoding.
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	detectCtx, cancelDetect := context.WithTimeout(context.Background(), 30*time.Second)
	nvencAvailable := ffmpeg.DetectNVENC(detectCtx, cfg.FFmpegPath)
	cancelDetect()

	libs, err := st.ListLibraries()
	if err != nil {
		logger.Error("Failed to list libraries", "error", err)
		st.Close()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                         SHRINKARR                         ║")
	fmt.Println("║        Automatic media library transcoding to HEVC        ║")
	versionLine := fmt.Sprintf("v%s", shrinkarr.Version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Config:       %s\n", cfgPath)
	fmt.Printf("  Database:     %s\n", cfg.DatabasePath)
	fmt.Printf("  Scratch:      %s\n", cfg.Scratch())
	fmt.Printf("  FFmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:      %s\n", cfg.FFprobePath)
	if rescanEvery > 0 {
		fmt.Printf("  Rescan:       every %s\n", rescanEvery)
	} else {
		fmt.Printf("  Rescan:       (disabled)\n")
	}
	if nvencAvailable {
		fmt.Printf("  Encoder:      hevc_nvenc (detected)\n")
	} else {
		fmt.Printf("  Encoder:      hevc_nvenc (NOT DETECTED)\n")
	}
	fmt.Printf("  Libraries:    %d\n", len(libs))
	fmt.Println()

	// Initialize components
	prober := ffmpeg.NewProber(cfg.FFprobePath)
	transcoder := ffmpeg.NewTranscoder(cfg.FFmpegPath)
	settingsSvc := settings.NewService(st)
	classifier := classify.New(st, settingsSvc, prober)
	rulesSvc := rules.NewService(st, classifier)
	events := bus.New()
	scanner := scan.New(st, classifier, events)
	watcher := watch.NewManager(st, classifier)
	worker := encode.NewWorker(st, settingsSvc, events, prober, transcoder, cfg.Scratch(), encode.Output{
		UID:  cfg.Output.UID,
		GID:  cfg.Output.GID,
		Mode: fileMode,
	})

	// Create API handler
	handler := api.NewHandler(api.Deps{
		Store:          st,
		Settings:       settingsSvc,
		Rules:          rulesSvc,
		Scanner:        scanner,
		Watcher:        watcher,
		Worker:         worker,
		Bus:            events,
		Version:        shrinkarr.Version,
		NVENCAvailable: nvencAvailable,
	})
	router := api.NewRouter(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the encode worker and the library watchers
	worker.Start(ctx)
	if err := watcher.StartAll(); err != nil {
		logger.Warn("Could not start all library watchers", "error", err)
	}

	// Scheduled rescans of every enabled library
	var scheduler *cron.Cron
	if rescanEvery > 0 {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(fmt.Sprintf("@every %s", rescanEvery), func() {
			if _, err := scanner.StartAll(context.Background()); err != nil {
				if errors.Is(err, errs.ErrConflict) {
					logger.Debug("Scheduled rescan skipped, a scan is already running")
				} else {
					logger.Error("Scheduled rescan failed to start", "error", err)
				}
			}
		})
		if err != nil {
			logger.Error("Failed to schedule rescans", "interval", rescanEvery, "error", err)
			worker.Stop()
			watcher.StopAll()
			st.Close()
			os.Exit(1)
		}
		scheduler.Start()
	}

	fmt.Printf("  Starting server on port %d\n", cfg.Port)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Printf("  Logging started (level: %s)\n", cfg.LogLevel)
	fmt.Println("─────────────────────────────────────────────────────────────")
	logger.Info("Shrinkarr started", "version", shrinkarr.Version, "port", cfg.Port, "libraries", len(libs), "watched", watcher.WatchedCount())
	if !nvencAvailable {
		logger.Warn("hevc_nvenc not available, encodes will fail until a capable encoder is present")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n  Shutting down...")
		logger.Info("Shutdown signal received")
		if scheduler != nil {
			scheduler.Stop()
		}
		scanner.Stop()
		watcher.StopAll()
		worker.Stop()
		// Close rather than Shutdown: open event streams would otherwise
		// hold the server up until their clients disconnect.
		return server.Close()
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped")
	fmt.Println("  Goodbye!")
}

func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		} else {
			logger.Warn("Ignoring invalid PORT", "value", v)
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		cfg.FFmpegPath = v
	}
	if v := os.Getenv("FFPROBE_PATH"); v != "" {
		cfg.FFprobePath = v
	}
	if v := os.Getenv("SCRATCH_PATH"); v != "" {
		cfg.ScratchDir = v
	}
	if v := os.Getenv("SCAN_INTERVAL"); v != "" {
		cfg.ScanInterval = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
