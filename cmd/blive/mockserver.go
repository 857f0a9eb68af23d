package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fplust/bilibili-live-danmu/internal/mockserver"
)

func mockServerCmd(gf *globalFlags) *cobra.Command {
	var (
		config     mockserver.Config
		roomID     int64
		interval   time.Duration
		popularity uint32
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local broadcast server with a scripted feed",
		Long: `mock-server speaks the broadcast protocol on a local port and pushes a
scripted feed of chat, gifts and super chats to every joined client.

Point a client at it with:
  blive view 1 --endpoint ws://127.0.0.1:2244/sub`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := gf.load()
			if err != nil {
				return err
			}
			config.Logger = logger
			config.Popularity = popularity

			srv := mockserver.New(config)
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", srv.URL())
			if addr := srv.TCPAddr(); addr != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Raw TCP on tcp://%s\n", addr)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return nil
				case now := <-ticker.C:
					n, err := srv.Broadcast(roomID, demoFeed(i, now)...)
					if err != nil {
						return err
					}
					logger.Debug("broadcast batch", "clients", n, "heartbeats", srv.HeartbeatCount())
				}
			}
		},
	}

	cmd.Flags().StringVar(&config.Addr, "addr", "127.0.0.1:2244", "WebSocket listen address")
	cmd.Flags().StringVar(&config.TCPAddr, "tcp-addr", "", "Raw TCP listen address (disabled when empty)")
	cmd.Flags().StringVar(&config.Path, "path", "/sub", "WebSocket endpoint path")
	cmd.Flags().Int64Var(&roomID, "room", 0, "Only feed clients of this room (0 = all)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Delay between batches")
	cmd.Flags().Uint32Var(&popularity, "popularity", 1000, "Popularity reported in heartbeat replies")

	return cmd
}

var demoViewers = []struct {
	uid  int64
	name string
}{
	{1001, "alice"},
	{1002, "bob"},
	{1003, "carol"},
	{1004, "dave"},
}

// demoFeed returns the i-th batch of the scripted feed.
func demoFeed(i int, now time.Time) [][]byte {
	v := demoViewers[i%len(demoViewers)]
	batch := [][]byte{
		mockserver.Danmaku(v.uid, v.name, fmt.Sprintf("hello #%d", i), now),
	}
	switch i % 6 {
	case 1:
		batch = append(batch, mockserver.SendGift(v.uid, v.name, "投喂", "辣条", 5, 500, "silver"))
	case 2:
		batch = append(batch, mockserver.SendGift(v.uid, v.name, "投喂", "小心心", 1, 5000, "gold"))
	case 3:
		batch = append(batch, mockserver.SuperChat(v.uid, v.name, "keep going", "", 30))
	case 4:
		batch = append(batch, mockserver.GuardBuy(v.uid, v.name, "舰长", 1, 198000, 3))
	case 5:
		batch = append(batch, mockserver.RoomRank(1, fmt.Sprintf("小时榜 %d", i%50+1)))
	}
	return batch
}
