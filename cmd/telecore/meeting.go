package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tiatele/telecore/session"
	"github.com/tiatele/telecore/signaling"
	"github.com/tiatele/telecore/transport/ws"
)

var (
	meetingStay  bool
	meetingTrace bool

	createTitle        string
	createParticipants []string
)

var meetingCmd = &cobra.Command{
	Use:   "meeting",
	Short: "Join or create a meeting over the signaling socket",
}

var meetingJoinCmd = &cobra.Command{
	Use:   "join <meeting-id>",
	Short: "Join an existing meeting and print its room URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignaling(cmd.Context(), func(ctx context.Context, c *signaling.Client) (signaling.RoomRef, error) {
			return c.JoinExistingMeeting(ctx, strings.TrimSpace(args[0]))
		})
	},
}

var meetingCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a meeting and print its room URL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignaling(cmd.Context(), func(ctx context.Context, c *signaling.Client) (signaling.RoomRef, error) {
			return c.CreateMeeting(ctx, signaling.CreateOptions{
				Title:        createTitle,
				Participants: createParticipants,
			})
		})
	},
}

func init() {
	meetingCmd.PersistentFlags().BoolVar(&meetingStay, "stay", false, "stay connected and log socket notifications until interrupted")
	meetingCmd.PersistentFlags().BoolVar(&meetingTrace, "trace", false, "print the redacted frame trace to stderr on exit")

	meetingCreateCmd.Flags().StringVarP(&createTitle, "title", "t", "", "meeting title")
	meetingCreateCmd.Flags().StringSliceVarP(&createParticipants, "participant", "p", nil, "user id to invite (repeatable)")

	meetingCmd.AddCommand(meetingJoinCmd, meetingCreateCmd)
	rootCmd.AddCommand(meetingCmd)
}

func newSignalingClient(sc *session.Context, baseURL string) *signaling.Client {
	factory := ws.Client(ws.ClientConfig{
		Dial: ws.DialConfig{
			URL: cfg.Signaling.URL,
			AuthHeaderFunc: func(context.Context) (string, error) {
				return sc.SessionID(), nil
			},
			ConnectTimeout: cfg.Signaling.ConnectTimeout,
		},
		Logger: logger,
	})

	return signaling.NewClient(
		signaling.WithLogger(logger),
		signaling.WithTransportFactory(factory),
		signaling.WithSession(session.Static{Context: sc}),
		signaling.WithConnectTimeout(cfg.Signaling.ConnectTimeout),
		signaling.WithRequestTimeout(cfg.Signaling.RequestTimeout),
		signaling.WithReconnect(cfg.Signaling.ReconnectAttempts, cfg.Signaling.ReconnectBackoff),
		signaling.WithConferenceBaseURL(baseURL),
		signaling.WithTraceSize(cfg.Signaling.TraceSize),
	)
}

func withSignaling(ctx context.Context, fn func(context.Context, *signaling.Client) (signaling.RoomRef, error)) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := sessionStore()
	sc, err := loadSession()
	if err != nil {
		return err
	}
	baseURL, err := session.GroupCallURL(store)
	if err != nil {
		return err
	}

	c := newSignalingClient(sc, baseURL)
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Disconnect(dctx); err != nil {
			logger.Warn("disconnect", "err", err)
		}
		if meetingTrace {
			for _, line := range c.Trace() {
				fmt.Fprintln(os.Stderr, line)
			}
		}
	}()

	if err := c.InitSocket(ctx); err != nil {
		return err
	}
	ref, err := fn(ctx, c)
	if err != nil {
		return err
	}
	fmt.Println(ref.URL)

	if !meetingStay {
		return nil
	}

	notes, unsubscribe := c.Subscribe(16)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			if n.Event != nil {
				logger.Info("event", "name", n.Event.Event)
				continue
			}
			logger.Info("state", "state", string(n.State))
			if n.State == signaling.StateDisconnected {
				return nil
			}
		}
	}
}
