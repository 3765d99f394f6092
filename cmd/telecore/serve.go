package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tiatele/telecore/internal/devserver"
)

var (
	serveAddr          string
	serveRooms         []string
	serveStatsInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local development backend",
	Long: `Run a local backend that speaks the encrypted request protocol on
/<service>/<method> and the signaling protocol on /socket.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		key, err := cfg.API.EnvelopeKey()
		if err != nil {
			return fmt.Errorf("envelope key: %w", err)
		}
		sk, err := cfg.API.SigningKey()
		if err != nil {
			return fmt.Errorf("signing key: %w", err)
		}

		srv := devserver.New(devserver.Config{
			Key:          key,
			KeyID:        cfg.API.KeyID,
			SigningKey:   sk,
			JWTSecret:    []byte(cfg.DevServer.JWTSecret),
			RoomCapacity: cfg.DevServer.RoomCapacity,
			Logger:       logger,
		})
		for _, id := range serveRooms {
			srv.Hub().OpenRoom(id)
		}

		addr := serveAddr
		if addr == "" {
			addr = cfg.DevServer.Addr
		}

		if serveStatsInterval > 0 {
			go logStats(ctx, srv.Hub(), serveStatsInterval)
		}

		err = srv.ListenAndServe(ctx, addr)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address (default from config)")
	serveCmd.Flags().StringSliceVar(&serveRooms, "room", nil, "meeting id to open at startup (repeatable)")
	serveCmd.Flags().DurationVar(&serveStatsInterval, "stats", 30*time.Second, "hub stats log interval, 0 disables")
	rootCmd.AddCommand(serveCmd)
}

func logStats(ctx context.Context, hub *devserver.Hub, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("hub stats", "stats", hub.Stats())
		}
	}
}
