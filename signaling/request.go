package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/tiatele/telecore/proto"
	"github.com/tiatele/telecore/proto/protov1"
)

type pendingResult struct {
	resp *proto.Response
	err  error
}

type pendingRequest struct {
	id     string
	method string
	ch     chan pendingResult
}

// newPendingRequest claims the single request slot of the current connection.
func (c *Client) newPendingRequest(req *proto.Request) (*pendingRequest, *connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil {
		return nil, nil, ErrNotConnected
	}
	if c.pending != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrRequestInFlight, c.pending.method)
	}

	pr := &pendingRequest{
		id:     req.ID,
		method: req.Method,
		ch:     make(chan pendingResult, 1),
	}
	c.pending = pr
	return pr, c.conn, nil
}

func (c *Client) clearPending(pr *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == pr {
		c.pending = nil
	}
}

// failPendingLocked must be called with c.mu held.
func (c *Client) failPendingLocked(err error) {
	pr := c.pending
	if pr == nil {
		return
	}
	c.pending = nil
	pr.ch <- pendingResult{err: err}
}

func (c *Client) resolvePendingRequest(conn *connection, resp *proto.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pr := c.pending
	if pr == nil || c.conn != conn || pr.id != resp.Response {
		c.logger.Debug("discarding stale response", slog.String("response", resp.Response))
		return
	}
	c.pending = nil
	pr.ch <- pendingResult{resp: resp}
}

// request sends payload and waits for the correlated response. At most one
// request is in flight per client.
func (c *Client) request(ctx context.Context, payload proto.NamedRequest) (*proto.Response, error) {
	req := proto.NewRequest(payload)

	pr, conn, err := c.newPendingRequest(req)
	if err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		c.clearPending(pr)
		return nil, proto.NewBadRequestError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	c.logger.Debug("Client.request()", slog.String("request_id", req.ID), slog.String("method", req.Method))

	data, err := json.Marshal(req)
	if err != nil {
		c.clearPending(pr)
		return nil, fmt.Errorf("request [method=%s, id=%s]: marshal: %w", req.Method, req.ID, err)
	}

	c.traceRequest(req)
	if err := conn.transport.Control().Write(ctx, data); err != nil {
		c.clearPending(pr)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request [method=%s, id=%s] failed: %w", req.Method, req.ID, ErrRequestTimeout)
		}
		return nil, fmt.Errorf("request [method=%s, id=%s]: %w: %v", req.Method, req.ID, ErrConnectionLost, err)
	}

	select {
	case <-ctx.Done():
		c.clearPending(pr)
		// the response may have raced the deadline
		select {
		case r := <-pr.ch:
			return r.resp, r.err
		default:
		}
		return nil, fmt.Errorf("request [method=%s, id=%s] failed: %w", req.Method, req.ID, ErrRequestTimeout)
	case r := <-pr.ch:
		return r.resp, r.err
	}
}

// RoomRef identifies the conference room the engine should open.
type RoomRef struct {
	MeetingID string
	Room      string
	URL       string
}

func (r RoomRef) String() string {
	return r.URL
}

func (c *Client) roomRef(meetingID, room string) (RoomRef, error) {
	if room == "" {
		room = meetingID
	}
	ref := RoomRef{MeetingID: meetingID, Room: room, URL: room}
	if c.conferenceBaseURL != "" {
		u, err := url.JoinPath(c.conferenceBaseURL, room)
		if err != nil {
			return RoomRef{}, fmt.Errorf("signaling: resolve room url: %w", err)
		}
		ref.URL = u
	}
	return ref, nil
}

func (c *Client) setMeeting(id string) {
	c.mu.Lock()
	c.meetingID = id
	c.mu.Unlock()
}

// requestFailure classifies errors returned by request. Transport level
// failures are passed through so callers can match the sentinels directly.
func requestFailure(err error) (RejectReason, string, bool) {
	var re *proto.ResponseError
	switch {
	case errors.Is(err, ErrRequestTimeout):
		return RejectTimeout, "", true
	case errors.As(err, &re):
		return RejectInvalid, re.Message, true
	}
	return "", "", false
}

// JoinExistingMeeting asks the server to admit the current user to an
// existing meeting and resolves the room to open.
func (c *Client) JoinExistingMeeting(ctx context.Context, meetingID string) (RoomRef, error) {
	sc := c.sessions.Current()
	res, err := c.request(ctx, &protov1.MeetingJoinRequest{
		MeetingID:      meetingID,
		SessionID:      sc.SessionID(),
		UserID:         sc.UserID(),
		OrganizationID: sc.OrganizationID(),
	})
	if err != nil {
		if reason, msg, ok := requestFailure(err); ok {
			return RoomRef{}, &JoinError{MeetingID: meetingID, Reason: reason, Message: msg, Err: err}
		}
		return RoomRef{}, err
	}

	if !res.Ok() {
		return RoomRef{}, &JoinError{
			MeetingID: meetingID,
			Reason:    rejectReason(res.Error.Code),
			Message:   res.Error.Message,
			Err:       res.Error,
		}
	}

	out := &protov1.MeetingJoinResponse{}
	if res.Result != nil {
		out, err = proto.As[protov1.MeetingJoinResponse](res.Result)
		if err != nil {
			return RoomRef{}, &JoinError{MeetingID: meetingID, Reason: RejectRejected, Err: err}
		}
	}
	if out.MeetingID == "" {
		out.MeetingID = meetingID
	}

	ref, err := c.roomRef(out.MeetingID, out.Room)
	if err != nil {
		return RoomRef{}, err
	}
	c.setMeeting(ref.MeetingID)
	c.logger.Info("joined meeting", slog.String("meeting_id", ref.MeetingID))
	return ref, nil
}

// CreateOptions describes a meeting to create.
type CreateOptions struct {
	Title        string
	Participants []string
}

// CreateMeeting asks the server to open a new meeting with the current user as
// host.
func (c *Client) CreateMeeting(ctx context.Context, opts CreateOptions) (RoomRef, error) {
	sc := c.sessions.Current()
	res, err := c.request(ctx, &protov1.MeetingCreateRequest{
		SessionID:      sc.SessionID(),
		UserID:         sc.UserID(),
		OrganizationID: sc.OrganizationID(),
		Title:          opts.Title,
		Participants:   opts.Participants,
	})
	if err != nil {
		if reason, msg, ok := requestFailure(err); ok {
			return RoomRef{}, &CreateError{Reason: reason, Message: msg, Err: err}
		}
		return RoomRef{}, err
	}

	if !res.Ok() {
		return RoomRef{}, &CreateError{
			Reason:  rejectReason(res.Error.Code),
			Message: res.Error.Message,
			Err:     res.Error,
		}
	}

	out, err := proto.As[protov1.MeetingCreateResponse](res.Result)
	if err != nil {
		return RoomRef{}, &CreateError{Reason: RejectRejected, Err: err}
	}
	if out.MeetingID == "" {
		return RoomRef{}, &CreateError{Reason: RejectRejected, Message: "server returned no meeting id"}
	}

	ref, err := c.roomRef(out.MeetingID, out.Room)
	if err != nil {
		return RoomRef{}, err
	}
	c.setMeeting(ref.MeetingID)
	c.logger.Info("created meeting", slog.String("meeting_id", ref.MeetingID))
	return ref, nil
}
