package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/collabcanvas/canvasd/internal/logger"
	"github.com/collabcanvas/canvasd/pkg/api"
	"github.com/collabcanvas/canvasd/pkg/canvas"
	"github.com/collabcanvas/canvasd/pkg/collab"
	"github.com/collabcanvas/canvasd/pkg/config"
	"github.com/collabcanvas/canvasd/pkg/history"
	"github.com/collabcanvas/canvasd/pkg/media"
	"github.com/collabcanvas/canvasd/pkg/metrics"
	"github.com/collabcanvas/canvasd/pkg/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the canvasd server",
	Long: `Start the canvasd server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/canvasd/config.yaml. Without a
config file the built-in defaults apply (SQLite database, port 3000).

Examples:
  # Start with defaults
  canvasd start

  # Start with custom config file
  canvasd start --config /etc/canvasd/config.yaml

  # Start with environment variable overrides
  CANVASD_LOGGING_LEVEL=DEBUG PORT=8080 canvasd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("canvasd - Collaborative canvas server")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics FIRST (before creating components that record)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}
	canvasMetrics := metrics.NewCanvasMetrics()

	// Persistence layer
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	logger.Info("Store initialized", "type", cfg.Database.Type)

	// Canvas state, history and the realtime hub
	canvasManager := canvas.NewManager(st)
	hist := history.New(st)
	hub := collab.NewHub(st, canvasManager, hist, canvasMetrics)

	// Media pipeline directories
	uploadsDir := cfg.Media.UploadsDir()
	thumbnailsDir := cfg.Media.ThumbnailsDir()
	for _, dir := range []string{uploadsDir, thumbnailsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create media directory %s: %w", dir, err)
		}
	}

	thumbnailer := media.NewThumbnailer(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, thumbnailsDir)
	queue := media.NewTranscodeQueue(media.TranscodeQueueConfig{
		FFmpegPath:     cfg.Media.FFmpegPath,
		FFprobePath:    cfg.Media.FFprobePath,
		UploadsDir:     uploadsDir,
		Formats:        transcodeFormats(cfg.Media.Formats),
		MaxWidth:       cfg.Media.MaxWidth,
		MaxHeight:      cfg.Media.MaxHeight,
		DeleteOriginal: cfg.Media.DeleteOriginal,
	}, st, thumbnailer, hub, canvasMetrics)
	pipeline := media.NewPipeline(uploadsDir, cfg.Media.FFprobePath, st, thumbnailer, queue, hub, canvasMetrics)
	sweeper := media.NewSweeper(st, thumbnailer, uploadsDir)

	go queue.Run(ctx)
	logger.Info("Transcode worker started", "formats", cfg.Media.Formats)

	if cfg.Cleanup.IsEnabled() {
		go sweeper.Run(ctx)
		logger.Info("Cleanup sweep enabled")
	} else {
		logger.Info("Cleanup sweep disabled")
	}

	// HTTP server carries the REST API and the websocket endpoint
	server := api.NewServer(cfg.Server, api.RouterDeps{
		Store:         st,
		Canvas:        canvasManager,
		Hub:           hub,
		Media:         pipeline,
		Sweeper:       sweeper,
		Version:       Version,
		UploadsDir:    uploadsDir,
		ThumbnailsDir: thumbnailsDir,
	})

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.", "port", server.Port())

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
	}

	shutdownComponents(hub, queue, cfg.ShutdownTimeout)
	logger.Info("Server stopped gracefully")
	return nil
}

// shutdownComponents closes the realtime sockets and waits for the
// transcode worker to drain, bounded by the configured timeout.
func shutdownComponents(hub *collab.Hub, queue *media.TranscodeQueue, timeout time.Duration) {
	hub.Shutdown()

	workerDone := make(chan struct{})
	go func() {
		queue.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
	case <-time.After(timeout):
		logger.Warn("Transcode worker did not stop within timeout", "timeout", timeout)
	}
}

// transcodeFormats maps configured format names to encoder settings.
func transcodeFormats(names []string) []media.TranscodeFormat {
	formats := make([]media.TranscodeFormat, 0, len(names))
	for _, name := range names {
		switch name {
		case "mp4":
			formats = append(formats, media.FormatMP4)
		default:
			formats = append(formats, media.FormatWebM)
		}
	}
	return formats
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
