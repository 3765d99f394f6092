// Package signaling implements the realtime signaling client used to set up
// calls. A Client keeps one authenticated connection to the signaling server,
// exposes its state, and negotiates joining or creating a meeting room before
// the conferencing engine takes over.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tiatele/telecore/proto"
	"github.com/tiatele/telecore/proto/protov1"
	"github.com/tiatele/telecore/session"
)

var errNoTransport = errors.New("signaling: no transport factory configured")

type connection struct {
	id        string
	gen       uint64
	transport Transport
	stop      chan struct{}
	stopOnce  sync.Once
}

func (cn *connection) halt() {
	cn.stopOnce.Do(func() {
		close(cn.stop)
	})
}

type Client struct {
	logger            *slog.Logger
	transportFunc     TransportFactory
	sessions          session.Provider
	connectTimeout    time.Duration
	requestTimeout    time.Duration
	reconnectAttempts int
	reconnectBackoff  time.Duration
	reconnectMaxDelay time.Duration
	conferenceBaseURL string
	trace             *frameTrace

	mu            sync.Mutex
	state         State
	conn          *connection
	gen           uint64        // gen invalidates connect attempts superseded by Disconnect or a drop
	attemptDone   chan struct{} // attemptDone is closed when the current connect or reconnect attempt settles
	lastErr       error
	stopReconnect chan struct{}
	wakeReconnect chan struct{} // wakeReconnect cuts the current backoff short
	pending       *pendingRequest
	meetingID     string
	subs          map[int]chan Notification
	nextSub       int
}

// NewClient creates a disconnected client.
func NewClient(opts ...Option) *Client {
	var o clientOptions
	withDefaults()(&o)
	withOptions(opts...)(&o)

	if o.sessions == nil {
		o.sessions = session.Static{}
	}

	return &Client{
		logger:            o.logger.With(slog.String("component", "signaling")),
		transportFunc:     o.transport,
		sessions:          o.sessions,
		connectTimeout:    o.connectTimeout,
		requestTimeout:    o.requestTimeout,
		reconnectAttempts: o.reconnectAttempts,
		reconnectBackoff:  o.reconnectBackoff,
		reconnectMaxDelay: o.reconnectMaxDelay,
		conferenceBaseURL: o.conferenceBaseURL,
		trace:             newFrameTrace(o.traceSize),
		state:             StateDisconnected,
		subs:              make(map[int]chan Notification),
	}
}

// InitSocket connects and authenticates the client. It is safe to call
// redundantly: when connected it returns at once, and while a connection
// attempt is running it waits for that attempt instead of dialing again.
func (c *Client) InitSocket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		wait := c.attemptDone
		c.mu.Unlock()
		return c.awaitAttempt(ctx, wait)
	case StateReconnecting:
		// dial now instead of sleeping out the backoff, then report that attempt
		wait := c.attemptDone
		select {
		case c.wakeReconnect <- struct{}{}:
		default:
		}
		c.mu.Unlock()
		return c.awaitAttempt(ctx, wait)
	}

	gen := c.bumpGenLocked()
	done := make(chan struct{})
	c.attemptDone = done
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.connect(ctx, gen)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(done)

	if err == nil && c.gen != gen {
		// Disconnect ran while we were dialing
		go c.closeTransport(conn.transport)
		err = &ConnectError{Reason: ConnectReasonClosed, Err: ErrDisconnected}
	}
	if err != nil {
		c.lastErr = err
		if c.gen == gen {
			c.setStateLocked(StateDisconnected)
		}
		c.logger.Warn("connect failed", slog.Any("err", err))
		return err
	}

	c.installLocked(conn)
	return nil
}

func (c *Client) awaitAttempt(ctx context.Context, wait <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return &ConnectError{Reason: ConnectReasonTimeout, Err: ctx.Err()}
	case <-wait:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		return nil
	}
	if c.lastErr != nil {
		return c.lastErr
	}
	return &ConnectError{Reason: ConnectReasonClosed, Err: ErrDisconnected}
}

// Disconnect tears the connection down and stops any reconnection. Pending
// requests fail with ErrDisconnected.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.bumpGenLocked()
	conn := c.conn
	c.conn = nil
	if c.stopReconnect != nil {
		close(c.stopReconnect)
		c.stopReconnect = nil
		c.wakeReconnect = nil
	}
	c.failPendingLocked(ErrDisconnected)
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.logger.Info("closing connection", slog.String("connection_id", conn.id))
	conn.halt()
	if err := conn.transport.Close(ctx); err != nil {
		return fmt.Errorf("signaling: close transport: %w", err)
	}
	return nil
}

// MeetingID returns the meeting most recently joined or created.
func (c *Client) MeetingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meetingID
}

func (c *Client) bumpGenLocked() uint64 {
	c.gen++
	return c.gen
}

func (c *Client) installLocked(conn *connection) {
	c.conn = conn
	c.lastErr = nil
	c.setStateLocked(StateConnected)
	c.logger.Info("connected", slog.String("connection_id", conn.id))
	go c.readLoop(conn)
}

func connectReason(ctx context.Context, err error) ConnectReason {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return ConnectReasonTimeout
	}
	return ConnectReasonNetwork
}

// connect dials a transport and runs the authentication handshake on it.
func (c *Client) connect(ctx context.Context, gen uint64) (*connection, error) {
	sc := c.sessions.Current()
	if !sc.Authenticated() {
		return nil, &ConnectError{Reason: ConnectReasonUnauthenticated, Err: session.ErrUnauthenticated}
	}
	if c.transportFunc == nil {
		return nil, &ConnectError{Reason: ConnectReasonNetwork, Err: errNoTransport}
	}

	t, err := c.transportFunc(ctx)
	if err != nil {
		return nil, &ConnectError{Reason: connectReason(ctx, err), Err: err}
	}

	id, err := c.authenticate(ctx, t, sc)
	if err != nil {
		go c.closeTransport(t)
		return nil, err
	}

	return &connection{
		id:        id,
		gen:       gen,
		transport: t,
		stop:      make(chan struct{}),
	}, nil
}

func (c *Client) authenticate(ctx context.Context, t Transport, sc *session.Context) (string, error) {
	req := proto.NewRequest(&protov1.SessionAuthenticateRequest{
		SessionID:      sc.SessionID(),
		UserID:         sc.UserID(),
		OrganizationID: sc.OrganizationID(),
	})

	data, err := json.Marshal(req)
	if err != nil {
		return "", &ConnectError{Reason: ConnectReasonNetwork, Err: err}
	}

	c.traceRequest(req)
	if err := t.Control().Write(ctx, data); err != nil {
		return "", &ConnectError{Reason: connectReason(ctx, err), Err: err}
	}

	in := t.Control().ReadChan()
	for {
		var data []byte
		select {
		case <-ctx.Done():
			return "", &ConnectError{Reason: ConnectReasonTimeout, Err: ctx.Err()}
		case <-t.Closed():
			// a reply queued before the close still counts
			select {
			case data = <-in:
			default:
			}
		case data = <-in:
		}
		if data == nil {
			return "", &ConnectError{Reason: ConnectReasonNetwork, Err: ErrTransportClosed}
		}
		c.trace.record(traceIn, data)

		msg, err := proto.ParseMessage(data)
		if err != nil {
			c.logger.Error("parsing message json failed", slog.Any("err", err))
			continue
		}
		res, ok := msg.(*proto.Response)
		if !ok || res.Response != req.ID {
			c.logger.Debug("ignoring frame before handshake ack", slog.String("type", msg.MessageType()))
			continue
		}

		if !res.Ok() {
			reason := ConnectReasonAuthRejected
			if res.Error.Code >= proto.ErrInternalServerError {
				reason = ConnectReasonNetwork
			}
			return "", &ConnectError{Reason: reason, Err: res.Error}
		}
		if res.Result == nil {
			return "", nil
		}
		out, err := proto.As[protov1.SessionAuthenticateResponse](res.Result)
		if err != nil {
			return "", &ConnectError{Reason: ConnectReasonNetwork, Err: err}
		}
		return out.ConnectionID, nil
	}
}

// readLoop is the only reader of a connection, so frames are applied in the
// order they were received.
func (c *Client) readLoop(conn *connection) {
	in := conn.transport.Control().ReadChan()
	for {
		select {
		case <-conn.stop:
			return
		case <-conn.transport.Closed():
			c.drain(conn, in)
			c.connectionLost(conn)
			return
		case data, ok := <-in:
			if !ok {
				c.connectionLost(conn)
				return
			}
			c.trace.record(traceIn, data)
			c.handleIncoming(conn, data)
		}
	}
}

// drain applies frames that arrived before the transport closed.
func (c *Client) drain(conn *connection, in <-chan []byte) {
	for {
		select {
		case data, ok := <-in:
			if !ok {
				return
			}
			c.trace.record(traceIn, data)
			c.handleIncoming(conn, data)
		default:
			return
		}
	}
}

func (c *Client) handleIncoming(conn *connection, data []byte) {
	msg, err := proto.ParseMessage(data)
	if err != nil {
		c.logger.Error("parsing message json failed", slog.Any("err", err))
		return
	}

	switch m := msg.(type) {
	case *proto.Response:
		c.resolvePendingRequest(conn, m)
	case *proto.Event:
		c.handleEvent(conn, m)
	case *proto.Request:
		c.rejectRequest(conn, m)
	}
}

func (c *Client) handleEvent(conn *connection, evt *proto.Event) {
	c.logger.Debug("handle event", slog.String("event", evt.Event))

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	if evt.Event == protov1.EventMeetingEnded {
		if d, err := proto.As[protov1.MeetingEndedEvent](evt.Data); err == nil && d.MeetingID == c.meetingID {
			c.meetingID = ""
		}
	}
	c.publishLocked(Notification{Event: evt})
	c.mu.Unlock()

	switch evt.Event {
	case protov1.EventSessionDisconnect:
		reason := ""
		if d, err := proto.As[protov1.SessionDisconnectEvent](evt.Data); err == nil {
			reason = d.Reason
		}
		c.serverDisconnect(conn, reason)
	case protov1.EventError:
		c.logger.Warn("server reported error", slog.Any("data", evt.Data))
	}
}

// rejectRequest answers server-initiated requests, which this client does not
// serve.
func (c *Client) rejectRequest(conn *connection, req *proto.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res := req.NotOk(&proto.ResponseError{
		Code:    proto.ErrNotImplemented,
		Message: fmt.Sprintf("unknown method: %s", req.Method),
	})
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	c.trace.record(traceOut, data)
	if err := conn.transport.Control().Write(ctx, data); err != nil {
		c.logger.Error("failed to write response", slog.Any("err", err))
	}
}

// serverDisconnect handles an orderly close requested by the server. No
// reconnection follows.
func (c *Client) serverDisconnect(conn *connection, reason string) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.bumpGenLocked()
	c.failPendingLocked(ErrConnectionLost)
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.logger.Info("server closed session", slog.String("reason", reason))
	conn.halt()
	go c.closeTransport(conn.transport)
}

func (c *Client) connectionLost(conn *connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	c.conn = nil
	c.logger.Warn("connection lost", slog.String("connection_id", conn.id))

	c.failPendingLocked(ErrConnectionLost)
	gen := c.bumpGenLocked()
	go c.closeTransport(conn.transport)

	if c.reconnectAttempts <= 0 {
		c.setStateLocked(StateDisconnected)
		return
	}

	done := make(chan struct{})
	stop := make(chan struct{})
	wake := make(chan struct{}, 1)
	c.attemptDone = done
	c.stopReconnect = stop
	c.wakeReconnect = wake
	c.setStateLocked(StateReconnecting)
	go c.reconnect(gen, done, stop, wake)
}

// reconnect re-dials with exponential backoff. In-flight requests are never
// replayed; callers re-issue them once connected again. done is closed and
// replaced after every failed attempt so InitSocket callers learn each outcome.
func (c *Client) reconnect(gen uint64, done, stop, wake chan struct{}) {
	defer func() {
		close(done)
	}()

	delay := c.reconnectBackoff
	for attempt := 1; attempt <= c.reconnectAttempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
		conn, err := c.connect(ctx, gen)
		cancel()

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			if conn != nil {
				c.closeTransport(conn.transport)
			}
			return
		}
		if err == nil {
			c.installLocked(conn)
			c.mu.Unlock()
			c.logger.Info("reconnected", slog.Int("attempt", attempt))
			return
		}
		c.lastErr = err

		var ce *ConnectError
		giveUp := errors.As(err, &ce) && (ce.Reason == ConnectReasonAuthRejected || ce.Reason == ConnectReasonUnauthenticated)
		if giveUp || attempt == c.reconnectAttempts {
			c.setStateLocked(StateDisconnected)
			c.mu.Unlock()
			c.logger.Warn("reconnect gave up", slog.Int("attempt", attempt), slog.Any("err", err))
			return
		}

		close(done)
		done = make(chan struct{})
		c.attemptDone = done
		c.mu.Unlock()

		c.logger.Warn("reconnect attempt failed", slog.Int("attempt", attempt), slog.Any("err", err))
		delay = min(delay*2, c.reconnectMaxDelay)
	}

	c.mu.Lock()
	if c.gen == gen {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
}

func (c *Client) closeTransport(t Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.Close(ctx); err != nil {
		c.logger.Debug("failed to close transport", slog.Any("err", err))
	}
}

// traceRequest records outgoing requests without their params, which carry
// session identifiers.
func (c *Client) traceRequest(req *proto.Request) {
	if c.trace == nil {
		return
	}
	line, _ := json.Marshal(map[string]string{"id": req.ID, "method": req.Method})
	c.trace.record(traceOut, line)
}
