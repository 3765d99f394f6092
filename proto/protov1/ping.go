package protov1

import (
	"fmt"
	"time"

	"github.com/tiatele/telecore/proto"
)

const MethodSessionPing = "session.ping"

type PingRequest struct {
	T0   int64 `json:"t0"` // sender clock in unix milliseconds
	Data any   `json:"data,omitempty"`
}

func (r *PingRequest) Validate() error {
	if r.T0 == 0 {
		return fmt.Errorf("session.ping t0 is required")
	}
	return nil
}

func (r *PingRequest) MethodName() string {
	return MethodSessionPing
}

func NewPingRequest(now time.Time, data any) *PingRequest {
	return &PingRequest{
		T0:   now.UnixMilli(),
		Data: data,
	}
}

type PingResponse struct {
	T0 int64 `json:"t0"` // echoed from the request
	T1 int64 `json:"t1"` // responder clock when the request was handled
	// OWD is T1-T0, meaningful only when both clocks agree.
	OWD  int64 `json:"owd"`
	Data any   `json:"data,omitempty"`
}

func NewPingResponse(req *PingRequest, now time.Time) *PingResponse {
	t1 := now.UnixMilli()
	return &PingResponse{
		T0:   req.T0,
		T1:   t1,
		OWD:  t1 - req.T0,
		Data: req.Data,
	}
}

var _ proto.NamedRequest = &PingRequest{}
