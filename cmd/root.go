package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/service"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	logFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "memocapture",
	Short: "Capture and organize short voice and audio memos",
	Long: `MemoCapture records audio memos from the microphone into a local
catalog. Each recording lives in its own folder with a small metadata
sidecar holding its date, duration, name and emoji label.

Recordings can be listed, renamed, labeled (by hand or through external
transcription and labeling commands), played back and deleted, either
from the command line or through the built-in web server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel, nil)

		if cfgFile == "" {
			cfgFile = config.DefaultConfigFile()
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logFile != "" {
			cfg.Log.File = logFile
		}
		if cfg.Log.File != "" {
			setupLogging(verboseLevel, &cfg.Log)
		}

		slog.Debug("Configuration loaded", "file", cfgFile, "profile", cfg.Profile, "storage", cfg.Storage.Root)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/memocapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this rotating file")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(autolabelCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(adoptCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level. When logCfg
// names a file, records also go to a size-rotated log there.
func setupLogging(level int, logCfg *config.LogConfig) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if logCfg != nil && logCfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(logCfg.File), 0755); err != nil {
			slog.Warn("Cannot create log directory, logging to stderr only", "file", logCfg.File, "error", err)
		} else {
			out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   logCfg.File,
				MaxSize:    logCfg.MaxSizeMB,
				MaxBackups: logCfg.MaxBackups,
				MaxAge:     logCfg.MaxAgeDays,
			})
		}
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(out, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// newService builds the service for the loaded configuration.
func newService() (*service.MemoCaptureService, error) {
	svc, err := service.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}
