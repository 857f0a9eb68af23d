package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fplust/bilibili-live-danmu/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	var gf globalFlags

	rootCmd := &cobra.Command{
		Use:   "blive",
		Short: "Bilibili live danmaku client",
		Long: `blive subscribes to a bilibili live room's broadcast socket and
prints chat, gifts and super chats as they arrive.

The serve command additionally archives events to SQLite and exposes
session status and Prometheus metrics over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&gf.configPath, "config", "c", config.FileName, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		viewCmd(&gf),
		serveCmd(&gf),
		mockServerCmd(&gf),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// load reads the config file (a missing file yields defaults) and applies
// the global flag overrides.
func (gf *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOptional(gf.configPath)
	if err != nil {
		return nil, nil, err
	}
	if gf.logLevel != "" {
		cfg.LogLevel = gf.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// roomArg returns the room from args, or from the config file.
func roomArg(cfg *config.Config, args []string) (int64, error) {
	if len(args) == 0 {
		if cfg.RoomID == 0 {
			return 0, fmt.Errorf("room id is required (argument or room_id in config)")
		}
		return cfg.RoomID, nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid room id %q", args[0])
	}
	return id, nil
}
