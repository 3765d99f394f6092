package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/tiatele/telecore/proto"
	"github.com/tiatele/telecore/proto/protov1"
	"github.com/tiatele/telecore/signaling"
)

const meetingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	ErrMeetingNotFound = proto.NewError(proto.ErrNotFound, errors.New("meeting not found"))
	ErrMeetingFull     = proto.NewError(proto.ErrConflict, errors.New("meeting is full"))
)

type room struct {
	id      string
	title   string
	host    string
	members map[string]struct{}
}

type hubConn struct {
	id        string
	transport signaling.Transport
	userID    string
	logger    *slog.Logger
}

func (hc *hubConn) send(ctx context.Context, msg proto.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	return hc.transport.Control().Write(ctx, data)
}

// Hub is the signaling side of the development backend. It authenticates
// connections and keeps meeting rooms in memory.
type Hub struct {
	logger      *slog.Logger
	tokens      *tokenIssuer
	capacity    int
	authTimeout time.Duration
	handlers    map[string]requestHandler

	mu    sync.Mutex
	conns map[string]*hubConn
	rooms map[string]*room
	hold  bool
}

func newHub(logger *slog.Logger, tokens *tokenIssuer, capacity int, authTimeout time.Duration) *Hub {
	h := &Hub{
		logger:      logger.With(slog.String("component", "hub")),
		tokens:      tokens,
		capacity:    capacity,
		authTimeout: authTimeout,
		handlers:    make(map[string]requestHandler),
		conns:       make(map[string]*hubConn),
		rooms:       make(map[string]*room),
	}

	for _, rh := range []requestHandler{
		handleRequest(h.createMeeting),
		handleRequest(h.joinMeeting),
		handleRequest(h.ping),
	} {
		h.handlers[rh.MethodName()] = rh
	}

	return h
}

// Stats reports the number of live connections and open rooms.
func (h *Hub) Stats() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"connections": len(h.conns),
		"rooms":       len(h.rooms),
	}
}

// OpenRoom creates a meeting with a fixed id.
func (h *Hub) OpenRoom(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[id]; !ok {
		h.rooms[id] = &room{id: id, members: make(map[string]struct{})}
	}
}

// HoldRequests makes the hub swallow requests without answering while on.
func (h *Hub) HoldRequests(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hold = on
}

func (h *Hub) holding() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hold
}

// DropAll closes every connection without notice.
func (h *Hub) DropAll() {
	for _, hc := range h.snapshot() {
		hc.logger.Debug("dropping connection")
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = hc.transport.Close(ctx)
		cancel()
	}
}

// DisconnectAll asks every client to go away, then closes the connections.
func (h *Hub) DisconnectAll(ctx context.Context, reason string) {
	for _, hc := range h.snapshot() {
		if err := hc.send(ctx, proto.NewEvent(&protov1.SessionDisconnectEvent{Reason: reason})); err != nil {
			hc.logger.Error("failed to send disconnect", slog.Any("err", err))
		}
		_ = hc.transport.Close(ctx)
	}
}

// CloseRoom removes a meeting and tells its members it ended.
func (h *Hub) CloseRoom(ctx context.Context, id string) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	var members []*hubConn
	if ok {
		delete(h.rooms, id)
		for cid := range r.members {
			if hc, ok := h.conns[cid]; ok {
				members = append(members, hc)
			}
		}
	}
	h.mu.Unlock()

	evt := proto.NewEvent(&protov1.MeetingEndedEvent{MeetingID: id})
	for _, hc := range members {
		if err := hc.send(ctx, evt); err != nil {
			hc.logger.Error("failed to send event", slog.Any("err", err))
		}
	}
}

// Broadcast pushes an event to every connection.
func (h *Hub) Broadcast(ctx context.Context, evt proto.NamedEvent) {
	for _, hc := range h.snapshot() {
		if err := hc.send(ctx, proto.NewEvent(evt)); err != nil {
			hc.logger.Error("failed to send event", slog.Any("err", err))
		}
	}
}

func (h *Hub) snapshot() []*hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*hubConn, 0, len(h.conns))
	for _, hc := range h.conns {
		out = append(out, hc)
	}
	return out
}

// Run serves every transport returned by accept until ctx is done.
func (h *Hub) Run(ctx context.Context, accept func(context.Context) (signaling.Transport, error)) error {
	defer h.tearDown()

	for {
		t, err := accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go h.Serve(ctx, t)
	}
}

func (h *Hub) tearDown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.DisconnectAll(ctx, "server shutting down")
	h.logger.Info("shut down")
}

// Serve runs one connection until it closes or ctx is done.
func (h *Hub) Serve(ctx context.Context, t signaling.Transport) {
	hc := &hubConn{id: proto.ID(), transport: t}
	hc.logger = h.logger.With(slog.String("connection_id", hc.id))

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = t.Close(closeCtx)
	}()

	if err := h.authenticate(ctx, hc); err != nil {
		hc.logger.Warn("authentication failed", slog.Any("err", err))
		return
	}

	h.mu.Lock()
	h.conns[hc.id] = hc
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.conns, hc.id)
		for _, r := range h.rooms {
			delete(r.members, hc.id)
		}
	}()

	in := t.Control().ReadChan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Closed():
			hc.logger.Debug("connection closed")
			return
		case data := <-in:
			h.handleFrame(ctx, hc, data)
		}
	}
}

func (h *Hub) authenticate(ctx context.Context, hc *hubConn) error {
	ctx, cancel := context.WithTimeout(ctx, h.authTimeout)
	defer cancel()

	var data []byte
	select {
	case <-ctx.Done():
		return fmt.Errorf("no authentication within %s: %w", h.authTimeout, ctx.Err())
	case <-hc.transport.Closed():
		return signaling.ErrTransportClosed
	case data = <-hc.transport.Control().ReadChan():
	}

	msg, err := proto.ParseMessage(data)
	if err != nil {
		return fmt.Errorf("parse first frame: %w", err)
	}
	req, ok := msg.(*proto.Request)
	if !ok || req.Method != protov1.MethodSessionAuthenticate {
		return fmt.Errorf("first frame must be %s", protov1.MethodSessionAuthenticate)
	}

	params, err := proto.As[protov1.SessionAuthenticateRequest](req.Params)
	if err == nil {
		err = params.Validate()
	}
	if err != nil {
		_ = hc.send(ctx, req.NotOk(proto.NewBadRequestError(err)))
		return err
	}

	claims, err := h.tokens.verify(params.SessionID)
	if err != nil {
		_ = hc.send(ctx, req.NotOk(proto.NewError(proto.ErrUnauthorized, err)))
		return err
	}
	if claims.Subject != "" && claims.Subject != params.UserID {
		err := fmt.Errorf("token subject does not match user %q", params.UserID)
		_ = hc.send(ctx, req.NotOk(proto.NewError(proto.ErrForbidden, err)))
		return err
	}

	hc.userID = params.UserID
	hc.logger = hc.logger.With(slog.String("user_id", hc.userID))
	hc.logger.Info("authenticated")
	return hc.send(ctx, req.Ok(&protov1.SessionAuthenticateResponse{ConnectionID: hc.id}))
}

func (h *Hub) handleFrame(ctx context.Context, hc *hubConn, data []byte) {
	msg, err := proto.ParseMessage(data)
	if err != nil {
		hc.logger.Error("parsing message json failed", slog.Any("err", err))
		evt := proto.NewEvent(&protov1.ErrorEvent{Code: proto.ErrStatusBadRequest, Message: err.Error()})
		if err := hc.send(ctx, evt); err != nil {
			hc.logger.Error("failed to send event", slog.Any("err", err))
		}
		return
	}

	req, ok := msg.(*proto.Request)
	if !ok {
		hc.logger.Debug("ignoring frame", slog.String("type", msg.MessageType()))
		return
	}

	if h.holding() {
		hc.logger.Debug("holding request", slog.String("method", req.Method), slog.String("request_id", req.ID))
		return
	}

	var res *proto.Response
	if rh, ok := h.handlers[req.Method]; ok {
		res = rh.Handle(ctx, hc, req)
	} else {
		res = req.NotOk(proto.NewError(proto.ErrNotImplemented, fmt.Errorf("unknown method: %s", req.Method)))
	}

	if err := hc.send(ctx, res); err != nil {
		hc.logger.Error("failed to write response", slog.Any("err", err))
	}
}

func (h *Hub) ping(_ context.Context, _ *hubConn, req *protov1.PingRequest) (*protov1.PingResponse, error) {
	return protov1.NewPingResponse(req, time.Now()), nil
}

func (h *Hub) createMeeting(_ context.Context, hc *hubConn, req *protov1.MeetingCreateRequest) (*protov1.MeetingCreateResponse, error) {
	id, err := gonanoid.Generate(meetingAlphabet, 6)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms[id] = &room{
		id:      id,
		title:   req.Title,
		host:    hc.userID,
		members: map[string]struct{}{hc.id: {}},
	}

	hc.logger.Info("meeting created", slog.String("meeting_id", id))
	return &protov1.MeetingCreateResponse{MeetingID: id, Room: id}, nil
}

func (h *Hub) joinMeeting(_ context.Context, hc *hubConn, req *protov1.MeetingJoinRequest) (*protov1.MeetingJoinResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[req.MeetingID]
	if !ok {
		return nil, ErrMeetingNotFound
	}
	if _, member := r.members[hc.id]; !member && h.capacity > 0 && len(r.members) >= h.capacity {
		return nil, ErrMeetingFull
	}
	r.members[hc.id] = struct{}{}

	hc.logger.Info("meeting joined", slog.String("meeting_id", r.id))
	return &protov1.MeetingJoinResponse{MeetingID: r.id, Room: r.id}, nil
}
