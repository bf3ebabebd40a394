package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haloframe/screenlogd/internal/capture"
	"github.com/haloframe/screenlogd/internal/config"
	"github.com/haloframe/screenlogd/internal/deployment"
	"github.com/haloframe/screenlogd/internal/logging"
	"github.com/haloframe/screenlogd/internal/statusserver"
	"github.com/haloframe/screenlogd/internal/storage"
	"github.com/haloframe/screenlogd/internal/supervisor"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "screenlogd",
	Short: "screenlogd continuously captures, deduplicates, and archives screenshots",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the capture pipeline",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("screenlogd v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running screenlogd process for its current metrics",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run a one-off retention cleanup pass and exit",
	Run: func(cmd *cobra.Command, args []string) {
		runCleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config directory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

// runDaemon loads config, opens storage, and runs the capture pipeline
// until a shutdown signal arrives.
func runDaemon() {
	cfg, warnings, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	for _, w := range warnings {
		log.Warn("config validation warning", "warning", w)
	}

	log.Info("starting screenlogd", "version", version, "dataDir", cfg.DataDir, "fps", cfg.FPS)

	platform, err := capture.NewPlatform()
	if err != nil {
		log.Error("failed to initialize capture platform", "error", err)
		os.Exit(1)
	}
	defer platform.Close()

	store, err := openStorage(cfg)
	if err != nil {
		log.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	imageDir := cfg.DataDir + "/images"
	images, err := storage.NewFileImageStore(imageDir)
	if err != nil {
		log.Error("failed to initialize image store", "error", err)
		os.Exit(1)
	}

	sup := supervisor.New(supervisorConfig(cfg), platform, store, images)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.StatusSocket != "" {
		go func() {
			if err := statusserver.Serve(ctx, cfg.StatusSocket, sup.Metrics); err != nil {
				log.Warn("status server stopped", "error", err)
			}
		}()
	}

	if cfg.StatusHTTPAddr != "" {
		go func() {
			if err := statusserver.ServeWS(ctx, cfg.StatusHTTPAddr, sup.Metrics); err != nil {
				log.Warn("status websocket server stopped", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		log.Error("pipeline stopped with error", "error", err)
		os.Exit(1)
	}

	log.Info("screenlogd stopped")
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		FPS:                    cfg.FPS,
		DeploymentID:           deployment.ID(),
		JPEGQuality:            cfg.JPEGQuality,
		DedupWindowSecs:        cfg.DedupWindowSecs,
		CaptureChannelCapacity: cfg.CaptureChannelCapacity,
		StorageChannelCapacity: cfg.StorageChannelCapacity,
		MetricsLogInterval:     time.Duration(cfg.MetricsLogIntervalSecs) * time.Second,
		ChannelWarnThreshold:   cfg.ChannelWarnThreshold,
		CleanupInterval:        24 * time.Hour,
		RetentionDays:          cfg.RetentionDays,
	}
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = cfg.DataDir + "/screenlogd.db"
	}
	return storage.OpenSQLStore(dsn)
}

func checkStatus() {
	cfg, _, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	reply, err := statusserver.Query(cfg.StatusSocket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not reach a running screenlogd process: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Deployment:      %s\n", reply.DeploymentID)
	fmt.Printf("Uptime:          %.0fs\n", reply.UptimeSecs)
	fmt.Printf("Frames captured: %d\n", reply.FramesCaptured)
	fmt.Printf("Deduped (mem):   %d\n", reply.FramesDedupedMemory)
	fmt.Printf("Deduped (db):    %d\n", reply.FramesDedupedDB)
	fmt.Printf("Stored:          %d\n", reply.FramesStored)
	fmt.Printf("Failed:          %d\n", reply.FramesFailed)
}

func runCleanup() {
	cfg, _, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	store, err := openStorage(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	images, err := storage.NewFileImageStore(cfg.DataDir + "/images")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open image store: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rows, err := store.CleanupOldData(ctx, cfg.RetentionDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Database cleanup failed: %v\n", err)
		os.Exit(1)
	}
	files, err := images.CleanupOldImages(cfg.RetentionDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Image cleanup failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Removed %d database rows and %d image files older than %d days.\n", rows, files, cfg.RetentionDays)
}
