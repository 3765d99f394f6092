package signaling

import (
	"errors"
	"fmt"

	"github.com/tiatele/telecore/proto"
)

var (
	ErrNotConnected    = errors.New("signaling: not connected")
	ErrRequestInFlight = errors.New("signaling: request in flight")
	ErrConnectionLost  = errors.New("signaling: connection lost")
	ErrDisconnected    = errors.New("signaling: disconnected")
	ErrRequestTimeout  = errors.New("signaling: request timeout")
)

type ConnectReason string

const (
	ConnectReasonNetwork         ConnectReason = "network"
	ConnectReasonAuthRejected    ConnectReason = "auth_rejected"
	ConnectReasonTimeout         ConnectReason = "timeout"
	ConnectReasonUnauthenticated ConnectReason = "unauthenticated"
	ConnectReasonClosed          ConnectReason = "closed"
)

type ConnectError struct {
	Reason ConnectReason
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("signaling: connect failed [%s]: %v", e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// RejectReason classifies why the server refused a join or create.
type RejectReason string

const (
	RejectNotFound RejectReason = "not_found"
	RejectFull     RejectReason = "full"
	RejectRejected RejectReason = "rejected"
	RejectTimeout  RejectReason = "timeout"
	RejectInvalid  RejectReason = "invalid"
)

func rejectReason(code proto.ErrorCode) RejectReason {
	switch code {
	case proto.ErrNotFound:
		return RejectNotFound
	case proto.ErrConflict:
		return RejectFull
	case proto.ErrStatusBadRequest:
		return RejectInvalid
	default:
		return RejectRejected
	}
}

type JoinError struct {
	MeetingID string
	Reason    RejectReason
	Message   string
	Err       error
}

func (e *JoinError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("signaling: join meeting %q [%s]: %s", e.MeetingID, e.Reason, msg)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}

type CreateError struct {
	Reason  RejectReason
	Message string
	Err     error
}

func (e *CreateError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("signaling: create meeting [%s]: %s", e.Reason, msg)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}
