// Package protov1 holds the payloads of version 1 of the signaling protocol.
package protov1

import (
	"fmt"

	"github.com/tiatele/telecore/proto"
)

const (
	MethodSessionAuthenticate = "session.authenticate"
	EventSessionDisconnect    = "session.disconnect"
	EventError                = "error"
)

// SessionAuthenticateRequest is the first frame on every connection.
type SessionAuthenticateRequest struct {
	SessionID      string `json:"sessionId"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
}

func (r *SessionAuthenticateRequest) MethodName() string {
	return MethodSessionAuthenticate
}

func (r *SessionAuthenticateRequest) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("session.authenticate sessionId is required")
	}
	return nil
}

type SessionAuthenticateResponse struct {
	ConnectionID string `json:"connectionId"`
}

// SessionDisconnectEvent is pushed by the server before it closes the
// connection on purpose. Clients must not reconnect after it.
type SessionDisconnectEvent struct {
	Reason string `json:"reason"`
}

func (e *SessionDisconnectEvent) EventName() string {
	return EventSessionDisconnect
}

type ErrorEvent struct {
	Code    proto.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

func (e *ErrorEvent) EventName() string {
	return EventError
}

var (
	_ proto.NamedRequest = &SessionAuthenticateRequest{}
	_ proto.NamedEvent   = &SessionDisconnectEvent{}
	_ proto.NamedEvent   = &ErrorEvent{}
)
