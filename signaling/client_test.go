package signaling_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tiatele/telecore/internal/devserver"
	"github.com/tiatele/telecore/proto/protov1"
	"github.com/tiatele/telecore/session"
	"github.com/tiatele/telecore/signaling"
	"github.com/tiatele/telecore/transport/direct"
)

const conferenceBase = "https://meet.example.org/"

func testSession() session.Provider {
	return session.Static{Context: session.New("secret-session", "42", "org-1")}
}

func counting(f signaling.TransportFactory, n *atomic.Int32) signaling.TransportFactory {
	return func(ctx context.Context) (signaling.Transport, error) {
		n.Add(1)
		return f(ctx)
	}
}

func newClient(t *testing.T, srv *devserver.Server, opts ...signaling.Option) *signaling.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := signaling.NewClient(append([]signaling.Option{
		signaling.WithTransportFactory(srv.Dialer(ctx)),
		signaling.WithSession(testSession()),
		signaling.WithConferenceBaseURL(conferenceBase),
		signaling.WithConnectTimeout(time.Second),
		signaling.WithReconnect(5, 20*time.Millisecond),
	}, opts...)...)
	t.Cleanup(func() {
		_ = c.Disconnect(context.Background())
	})
	return c
}

func outgoing(c *signaling.Client, method string) int {
	n := 0
	for _, l := range c.Trace() {
		if strings.HasPrefix(l, "> ") && strings.Contains(l, `"method":"`+method+`"`) {
			n++
		}
	}
	return n
}

func waitForState(t *testing.T, ch <-chan signaling.Notification, want signaling.State) []signaling.State {
	t.Helper()
	var seen []signaling.State
	timeout := time.After(3 * time.Second)
	for {
		select {
		case n := <-ch:
			if n.Event != nil {
				continue
			}
			seen = append(seen, n.State)
			if n.State == want {
				return seen
			}
		case <-timeout:
			t.Fatalf("state %s not reached, saw %v", want, seen)
		}
	}
}

func TestInitSocketThenJoin(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	srv.Hub().OpenRoom("ABC123")
	c := newClient(t, srv)

	// reading the status never connects
	require.False(t, c.ConnectionStatus())
	require.False(t, c.ConnectionStatus())
	require.Equal(t, signaling.StateDisconnected, c.State())

	require.NoError(t, c.InitSocket(context.Background()))
	require.True(t, c.ConnectionStatus())

	ref, err := c.JoinExistingMeeting(context.Background(), "ABC123")
	require.NoError(t, err)
	require.Equal(t, "ABC123", ref.MeetingID)
	require.Equal(t, "https://meet.example.org/ABC123", ref.URL)
	require.Equal(t, ref.URL, ref.String())
	require.Equal(t, "ABC123", c.MeetingID())
}

func TestJoinWhenNotConnectedSendsNothing(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	var dials atomic.Int32
	c := newClient(t, srv, signaling.WithTransportFactory(counting(srv.Dialer(context.Background()), &dials)))

	_, err := c.JoinExistingMeeting(context.Background(), "ABC123")
	require.ErrorIs(t, err, signaling.ErrNotConnected)

	_, err = c.CreateMeeting(context.Background(), signaling.CreateOptions{})
	require.ErrorIs(t, err, signaling.ErrNotConnected)

	require.Zero(t, dials.Load())
	require.Empty(t, c.Trace())
	require.Equal(t, signaling.StateDisconnected, c.State())
}

func TestSecondJoinWhileFirstInFlight(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	srv.Hub().OpenRoom("ABC123")
	c := newClient(t, srv, signaling.WithRequestTimeout(300*time.Millisecond))
	require.NoError(t, c.InitSocket(context.Background()))

	srv.Hub().HoldRequests(true)

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.JoinExistingMeeting(context.Background(), "ABC123")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return outgoing(c, "meeting.join") == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.JoinExistingMeeting(context.Background(), "ABC123")
	require.ErrorIs(t, err, signaling.ErrRequestInFlight)
	require.Equal(t, 1, outgoing(c, "meeting.join"))

	// the held request is never answered
	err = <-firstErr
	var joinErr *signaling.JoinError
	require.ErrorAs(t, err, &joinErr)
	require.Equal(t, signaling.RejectTimeout, joinErr.Reason)
	require.ErrorIs(t, err, signaling.ErrRequestTimeout)

	// the slot is free again
	srv.Hub().HoldRequests(false)
	_, err = c.JoinExistingMeeting(context.Background(), "ABC123")
	require.NoError(t, err)
}

func TestDropMidJoinReconnects(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	srv.Hub().OpenRoom("ABC123")
	c := newClient(t, srv)

	notifications, unsubscribe := c.Subscribe(32)
	defer unsubscribe()

	require.NoError(t, c.InitSocket(context.Background()))
	waitForState(t, notifications, signaling.StateConnected)

	srv.Hub().HoldRequests(true)
	joinErr := make(chan error, 1)
	go func() {
		_, err := c.JoinExistingMeeting(context.Background(), "ABC123")
		joinErr <- err
	}()
	require.Eventually(t, func() bool { return outgoing(c, "meeting.join") == 1 }, time.Second, 5*time.Millisecond)

	srv.Hub().HoldRequests(false)
	srv.Hub().DropAll()

	err := <-joinErr
	require.ErrorIs(t, err, signaling.ErrConnectionLost)

	seen := waitForState(t, notifications, signaling.StateConnected)
	require.Equal(t, []signaling.State{signaling.StateReconnecting, signaling.StateConnected}, seen)

	// no replay: the old join is gone, a fresh one goes through
	ref, err := c.JoinExistingMeeting(context.Background(), "ABC123")
	require.NoError(t, err)
	require.Equal(t, "https://meet.example.org/ABC123", ref.URL)
	require.Equal(t, 2, outgoing(c, "meeting.join"))
}

func TestReconnectExhaustion(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dials atomic.Int32
	dial := srv.Dialer(ctx)
	c := newClient(t, srv,
		signaling.WithReconnect(2, 10*time.Millisecond),
		signaling.WithTransportFactory(func(ctx context.Context) (signaling.Transport, error) {
			if dials.Add(1) > 1 {
				return nil, context.DeadlineExceeded
			}
			return dial(ctx)
		}),
	)

	notifications, unsubscribe := c.Subscribe(32)
	defer unsubscribe()

	require.NoError(t, c.InitSocket(context.Background()))
	waitForState(t, notifications, signaling.StateConnected)

	srv.Hub().DropAll()
	seen := waitForState(t, notifications, signaling.StateDisconnected)
	require.Contains(t, seen, signaling.StateReconnecting)
	require.Equal(t, int32(3), dials.Load())
}

func TestInitSocketIsIdempotent(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	var dials atomic.Int32
	c := newClient(t, srv, signaling.WithTransportFactory(counting(srv.Dialer(context.Background()), &dials)))

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.InitSocket(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, c.InitSocket(context.Background()))
	require.Equal(t, int32(1), dials.Load())
	require.Equal(t, 1, outgoing(c, protov1.MethodSessionAuthenticate))
}

func TestInitSocketFailures(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		srv := devserver.New(devserver.Config{})
		var dials atomic.Int32
		c := newClient(t, srv,
			signaling.WithSession(session.NewHolder(nil)),
			signaling.WithTransportFactory(counting(srv.Dialer(context.Background()), &dials)),
		)

		err := c.InitSocket(context.Background())
		var ce *signaling.ConnectError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, signaling.ConnectReasonUnauthenticated, ce.Reason)
		require.ErrorIs(t, err, session.ErrUnauthenticated)
		require.Zero(t, dials.Load())
	})

	t.Run("auth rejected", func(t *testing.T) {
		srv := devserver.New(devserver.Config{JWTSecret: []byte("jwt-secret")})
		c := newClient(t, srv)

		err := c.InitSocket(context.Background())
		var ce *signaling.ConnectError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, signaling.ConnectReasonAuthRejected, ce.Reason)
		require.Equal(t, signaling.StateDisconnected, c.State())
	})

	t.Run("timeout", func(t *testing.T) {
		silent := direct.Dialer(context.Background(), func(context.Context, signaling.Transport) {})
		c := signaling.NewClient(
			signaling.WithTransportFactory(silent),
			signaling.WithSession(testSession()),
			signaling.WithConnectTimeout(100*time.Millisecond),
		)

		err := c.InitSocket(context.Background())
		var ce *signaling.ConnectError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, signaling.ConnectReasonTimeout, ce.Reason)
		require.Equal(t, signaling.StateDisconnected, c.State())
		require.False(t, c.ConnectionStatus())
	})

	t.Run("no transport", func(t *testing.T) {
		c := signaling.NewClient(signaling.WithSession(testSession()))
		err := c.InitSocket(context.Background())
		var ce *signaling.ConnectError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, signaling.ConnectReasonNetwork, ce.Reason)
	})
}

func TestLoginTokenAuthenticates(t *testing.T) {
	srv := devserver.New(devserver.Config{JWTSecret: []byte("jwt-secret")})
	token, err := srv.IssueToken("42", "org-1")
	require.NoError(t, err)

	holder := session.NewHolder(session.New(token, "42", "org-1"))
	c := newClient(t, srv, signaling.WithSession(holder))
	require.NoError(t, c.InitSocket(context.Background()))

	// token issued for someone else
	other := newClient(t, srv, signaling.WithSession(session.Static{Context: session.New(token, "7", "")}))
	var ce *signaling.ConnectError
	require.ErrorAs(t, other.InitSocket(context.Background()), &ce)
	require.Equal(t, signaling.ConnectReasonAuthRejected, ce.Reason)
}

func TestJoinRejections(t *testing.T) {
	srv := devserver.New(devserver.Config{RoomCapacity: 1})
	srv.Hub().OpenRoom("ABC123")

	a := newClient(t, srv)
	b := newClient(t, srv)
	require.NoError(t, a.InitSocket(context.Background()))
	require.NoError(t, b.InitSocket(context.Background()))

	var joinErr *signaling.JoinError

	_, err := a.JoinExistingMeeting(context.Background(), "NOPE42")
	require.ErrorAs(t, err, &joinErr)
	require.Equal(t, signaling.RejectNotFound, joinErr.Reason)
	require.Equal(t, "NOPE42", joinErr.MeetingID)

	_, err = a.JoinExistingMeeting(context.Background(), "ABC123")
	require.NoError(t, err)

	_, err = b.JoinExistingMeeting(context.Background(), "ABC123")
	require.ErrorAs(t, err, &joinErr)
	require.Equal(t, signaling.RejectFull, joinErr.Reason)

	_, err = b.JoinExistingMeeting(context.Background(), "")
	require.ErrorAs(t, err, &joinErr)
	require.Equal(t, signaling.RejectInvalid, joinErr.Reason)

	// rejections leave the connection usable
	require.True(t, b.ConnectionStatus())
}

func TestCreateMeeting(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	host := newClient(t, srv)
	guest := newClient(t, srv, signaling.WithConferenceBaseURL(""))
	require.NoError(t, host.InitSocket(context.Background()))
	require.NoError(t, guest.InitSocket(context.Background()))

	ref, err := host.CreateMeeting(context.Background(), signaling.CreateOptions{Title: "follow-up"})
	require.NoError(t, err)
	require.Len(t, ref.MeetingID, 6)
	require.Equal(t, conferenceBase+ref.MeetingID, ref.URL)

	joined, err := guest.JoinExistingMeeting(context.Background(), ref.MeetingID)
	require.NoError(t, err)
	require.Equal(t, ref.MeetingID, joined.URL)
}

func TestServerDisconnectStopsClient(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	var dials atomic.Int32
	c := newClient(t, srv, signaling.WithTransportFactory(counting(srv.Dialer(context.Background()), &dials)))

	notifications, unsubscribe := c.Subscribe(32)
	defer unsubscribe()
	require.NoError(t, c.InitSocket(context.Background()))

	srv.Hub().DisconnectAll(context.Background(), "maintenance")

	var gotEvent bool
	timeout := time.After(3 * time.Second)
	for c.State() != signaling.StateDisconnected || !gotEvent {
		select {
		case n := <-notifications:
			if n.Event != nil && n.Event.Event == protov1.EventSessionDisconnect {
				gotEvent = true
			}
			require.NotEqual(t, signaling.StateReconnecting, n.State)
		case <-timeout:
			t.Fatal("no disconnect")
		}
	}

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, signaling.StateDisconnected, c.State())
	require.Equal(t, int32(1), dials.Load())
}

func TestDisconnect(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	srv.Hub().OpenRoom("ABC123")
	c := newClient(t, srv)
	require.NoError(t, c.InitSocket(context.Background()))

	srv.Hub().HoldRequests(true)
	joinErr := make(chan error, 1)
	go func() {
		_, err := c.JoinExistingMeeting(context.Background(), "ABC123")
		joinErr <- err
	}()
	require.Eventually(t, func() bool { return outgoing(c, "meeting.join") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect(context.Background()))
	require.ErrorIs(t, <-joinErr, signaling.ErrDisconnected)
	require.Equal(t, signaling.StateDisconnected, c.State())

	_, err := c.JoinExistingMeeting(context.Background(), "ABC123")
	require.ErrorIs(t, err, signaling.ErrNotConnected)

	// Disconnect is safe to repeat, and the client can connect again
	require.NoError(t, c.Disconnect(context.Background()))
	srv.Hub().HoldRequests(false)
	require.NoError(t, c.InitSocket(context.Background()))
}

func TestTraceOmitsSessionID(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	srv.Hub().OpenRoom("ABC123")
	c := newClient(t, srv)
	require.NoError(t, c.InitSocket(context.Background()))
	_, err := c.JoinExistingMeeting(context.Background(), "ABC123")
	require.NoError(t, err)

	lines := c.Trace()
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "> "))
	require.True(t, strings.HasPrefix(lines[1], "< "))
	for _, l := range lines {
		require.NotContains(t, l, "secret-session")
	}
}

func TestMeetingEndedClearsMeeting(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	srv.Hub().OpenRoom("ABC123")
	c := newClient(t, srv)

	require.NoError(t, c.InitSocket(context.Background()))
	_, err := c.JoinExistingMeeting(context.Background(), "ABC123")
	require.NoError(t, err)
	require.Equal(t, "ABC123", c.MeetingID())

	notifications, unsubscribe := c.Subscribe(8)
	defer unsubscribe()
	srv.Hub().CloseRoom(context.Background(), "ABC123")

	select {
	case n := <-notifications:
		require.NotNil(t, n.Event)
		require.Equal(t, protov1.EventMeetingEnded, n.Event.Event)
	case <-time.After(3 * time.Second):
		t.Fatal("no meeting.ended event")
	}
	require.Empty(t, c.MeetingID())
	require.True(t, c.ConnectionStatus())

	_, err = c.JoinExistingMeeting(context.Background(), "ABC123")
	var je *signaling.JoinError
	require.ErrorAs(t, err, &je)
	require.Equal(t, signaling.RejectNotFound, je.Reason)
}

func TestInitSocketDuringBackoffDialsAtOnce(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	var dials atomic.Int32
	c := newClient(t, srv,
		signaling.WithTransportFactory(counting(srv.Dialer(context.Background()), &dials)),
		signaling.WithReconnect(3, 5*time.Second),
		signaling.WithConnectTimeout(500*time.Millisecond),
	)

	notifications, unsubscribe := c.Subscribe(32)
	defer unsubscribe()
	require.NoError(t, c.InitSocket(context.Background()))
	waitForState(t, notifications, signaling.StateConnected)

	srv.Hub().DropAll()
	waitForState(t, notifications, signaling.StateReconnecting)

	start := time.Now()
	require.NoError(t, c.InitSocket(context.Background()))
	require.Less(t, time.Since(start), time.Second)
	require.True(t, c.ConnectionStatus())
	require.Equal(t, int32(2), dials.Load())
}

func TestInitSocketReportsFailedReconnectAttempt(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	dial := srv.Dialer(context.Background())
	var dials atomic.Int32
	refused := errors.New("connection refused")
	c := newClient(t, srv,
		signaling.WithTransportFactory(func(ctx context.Context) (signaling.Transport, error) {
			if dials.Add(1) > 1 {
				return nil, refused
			}
			return dial(ctx)
		}),
		signaling.WithReconnect(3, 5*time.Second),
		signaling.WithConnectTimeout(500*time.Millisecond),
	)

	notifications, unsubscribe := c.Subscribe(32)
	defer unsubscribe()
	require.NoError(t, c.InitSocket(context.Background()))
	waitForState(t, notifications, signaling.StateConnected)

	srv.Hub().DropAll()
	waitForState(t, notifications, signaling.StateReconnecting)

	err := c.InitSocket(context.Background())
	var ce *signaling.ConnectError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, signaling.ConnectReasonNetwork, ce.Reason)
	require.ErrorIs(t, err, refused)
	require.Equal(t, signaling.StateReconnecting, c.State())
}
