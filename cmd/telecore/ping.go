package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trips over the signaling socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sc, err := loadSession()
		if err != nil {
			return err
		}
		c := newSignalingClient(sc, "")
		defer func() {
			_ = c.Disconnect(context.Background())
		}()

		if err := c.InitSocket(ctx); err != nil {
			return err
		}
		for i := 0; i < pingCount; i++ {
			rtt, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("seq=%d rtt=%s\n", i, rtt.Round(time.Microsecond))
		}
		return nil
	},
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 3, "number of pings")
	rootCmd.AddCommand(pingCmd)
}

