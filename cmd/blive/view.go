package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fplust/bilibili-live-danmu/internal/live"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

func viewCmd(gf *globalFlags) *cobra.Command {
	var sf sessionFlags

	cmd := &cobra.Command{
		Use:   "view [room]",
		Short: "Print a room's chat to the terminal",
		Args:  cobra.MaximumNArgs(1),
		Example: `  blive view 5440
  blive view 5440 --transport tcp --legacy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := gf.load()
			if err != nil {
				return err
			}
			if err := sf.apply(cfg); err != nil {
				return err
			}
			roomID, err := roomArg(cfg, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := &renderer{w: cmd.OutOrStdout(), loc: time.Local}
			opts := sessionOptions(cfg, logger)
			return runRoom(ctx, cfg, roomID, opts, logger, func(_ *live.Session, ev event.Event) error {
				return r.render(ev)
			})
		},
	}
	sf.register(cmd)

	return cmd
}
