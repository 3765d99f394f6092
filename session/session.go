// Package session holds the authenticated identity every request and signaling
// handshake is bound to.
//
// A Context is an immutable snapshot. Login and logout replace the current
// snapshot through a Holder; they never mutate a Context a request may still
// be reading.
package session

import (
	"errors"
	"sync/atomic"
)

// Wire keys used when session fields are sent as request params.
const (
	KeySessionID      = "sessionId"
	KeyUserID         = "userId"
	KeyOrganizationID = "organizationId"
)

var ErrUnauthenticated = errors.New("session: unauthenticated")

// Field selects a session value to send along with a request.
type Field int

const (
	FieldSessionID Field = iota
	FieldUserID
	FieldOrganizationID
)

func (f Field) key() string {
	switch f {
	case FieldSessionID:
		return KeySessionID
	case FieldUserID:
		return KeyUserID
	case FieldOrganizationID:
		return KeyOrganizationID
	default:
		return ""
	}
}

type Context struct {
	sessionID      string
	userID         string
	organizationID string
}

func New(sessionID, userID, organizationID string) *Context {
	return &Context{
		sessionID:      sessionID,
		userID:         userID,
		organizationID: organizationID,
	}
}

func (c *Context) SessionID() string {
	if c == nil {
		return ""
	}
	return c.sessionID
}

func (c *Context) UserID() string {
	if c == nil {
		return ""
	}
	return c.userID
}

func (c *Context) OrganizationID() string {
	if c == nil {
		return ""
	}
	return c.organizationID
}

// Authenticated reports whether the backend issued a session id.
func (c *Context) Authenticated() bool {
	return c.SessionID() != ""
}

// Params returns the requested fields keyed by their wire names. Empty values
// are included so the remote side sees exactly what the caller asked for.
func (c *Context) Params(fields ...Field) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		switch f {
		case FieldSessionID:
			out[f.key()] = c.SessionID()
		case FieldUserID:
			out[f.key()] = c.UserID()
		case FieldOrganizationID:
			out[f.key()] = c.OrganizationID()
		}
	}
	return out
}

// Provider hands out the current session snapshot.
type Provider interface {
	Current() *Context
}

// Holder is the process-wide slot for the current Context. Replacement is
// atomic: readers observe either the previous or the next snapshot in full.
type Holder struct {
	cur atomic.Pointer[Context]
}

func NewHolder(initial *Context) *Holder {
	h := &Holder{}
	if initial != nil {
		h.cur.Store(initial)
	}
	return h
}

// Current returns the active snapshot, or an empty unauthenticated Context.
func (h *Holder) Current() *Context {
	if c := h.cur.Load(); c != nil {
		return c
	}
	return &Context{}
}

// Replace installs a new snapshot, typically after login or session restore.
func (h *Holder) Replace(c *Context) {
	h.cur.Store(c)
}

// Clear drops the active snapshot on logout.
func (h *Holder) Clear() {
	h.cur.Store(nil)
}

var _ Provider = &Holder{}

// Static always returns the same snapshot.
type Static struct {
	Context *Context
}

func (s Static) Current() *Context {
	if s.Context == nil {
		return &Context{}
	}
	return s.Context
}

var _ Provider = Static{}
