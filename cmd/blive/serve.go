package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/fplust/bilibili-live-danmu/internal/api"
	"github.com/fplust/bilibili-live-danmu/internal/archive"
	"github.com/fplust/bilibili-live-danmu/internal/config"
	"github.com/fplust/bilibili-live-danmu/internal/dispatch"
	"github.com/fplust/bilibili-live-danmu/internal/live"
	"github.com/fplust/bilibili-live-danmu/internal/metrics"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

func serveCmd(gf *globalFlags) *cobra.Command {
	var (
		sf          sessionFlags
		addr        string
		dbPath      string
		record      string
		printEvents bool
	)

	cmd := &cobra.Command{
		Use:   "serve [room]",
		Short: "Archive a room's events and serve status over HTTP",
		Long: `Serve subscribes to a room and fans every event out to the configured
sinks: a SQLite archive and a length-delimited protobuf recording.

An HTTP server exposes /healthz, /metrics and /api/v1 session status and
recent events.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := gf.load()
			if err != nil {
				return err
			}
			if err := sf.apply(cfg); err != nil {
				return err
			}
			if addr != "" {
				cfg.API.Addr = addr
			}
			if dbPath != "" {
				cfg.Archive.SQLitePath = dbPath
			}
			if record != "" {
				cfg.Archive.RecordPath = record
			}
			roomID, err := roomArg(cfg, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var out *renderer
			if printEvents {
				out = &renderer{w: cmd.OutOrStdout(), loc: time.Local}
			}
			return serve(ctx, cfg, roomID, logger, out)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config, "+config.DefaultAPIAddr+")")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite archive path (\":memory:\" keeps events in memory)")
	cmd.Flags().StringVar(&record, "record", "", "Append events to a protobuf recording file")
	cmd.Flags().BoolVar(&printEvents, "print", false, "Also print events to stdout")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, roomID int64, logger *slog.Logger, out *renderer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(
		metrics.WithRegistry(reg),
		metrics.WithConstLabels(prometheus.Labels{"room": strconv.FormatInt(roomID, 10)}),
	)
	tracker := api.NewTracker()

	hub := dispatch.NewHub(logger)

	var store api.EventStore
	if cfg.Archive.SQLitePath != "" {
		s, err := archive.Open(cfg.Archive.SQLitePath)
		if err != nil {
			return err
		}
		defer s.Close()
		hub.Register("sqlite", s)
		store = s
		logger.Info("archiving events", "path", cfg.Archive.SQLitePath)
	}
	if cfg.Archive.RecordPath != "" {
		rec, err := archive.CreateRecorder(cfg.Archive.RecordPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warn("failed to close recording", "error", err)
			}
		}()
		hub.Register("recorder", rec)
		logger.Info("recording events", "path", cfg.Archive.RecordPath)
	}
	if out != nil {
		hub.Register("stdout", dispatch.SinkFunc(func(_ context.Context, ev event.Event) error {
			return out.render(ev)
		}))
	}

	srv := api.NewServer(tracker, store, &api.Config{
		Addr:         cfg.API.Addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Gatherer:     reg,
		Logger:       logger,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("failed to stop HTTP server", "error", err)
		}
	}()
	logger.Info("serving", "room", roomID, "addr", srv.Addr(), "sinks", hub.SinkCount())

	opts := sessionOptions(cfg, logger, collector, tracker)
	err := runRoom(ctx, cfg, roomID, opts, logger, func(s *live.Session, ev event.Event) error {
		ctx := dispatch.WithOrigin(ctx, dispatch.Origin{RoomID: s.RoomID(), SessionID: s.ID()})
		// sink failures are logged by the hub and never end the session
		_ = hub.Dispatch(ctx, ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("room %d: %w", roomID, err)
	}
	return nil
}
