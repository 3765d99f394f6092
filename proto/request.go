package proto

import (
	"fmt"
)

// NamedRequest is implemented by request payloads.
type NamedRequest interface {
	MethodName() string
}

type validatable interface {
	Validate() error
}

type Request struct {
	Version string `json:"version"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func (r *Request) MessageType() string {
	return "request"
}

func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request ID is required")
	}

	if r.Method == "" {
		return fmt.Errorf("request method is required")
	}

	if r.Params != nil {
		if v, ok := r.Params.(validatable); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("request.params invalid: %w", err)
			}
		}
	}

	return nil
}

// Ok creates a successful response for a request
func (r *Request) Ok(result any) *Response {
	return &Response{Version: r.Version, Response: r.ID, Result: result}
}

// NotOk creates a failure response for a request
func (r *Request) NotOk(err *ResponseError) *Response {
	return &Response{Version: r.Version, Response: r.ID, Error: err}
}

// NewRequest wraps a payload into a request with a fresh correlation id.
func NewRequest(payload NamedRequest) *Request {
	return &Request{
		Version: Version,
		ID:      ID(),
		Method:  payload.MethodName(),
		Params:  payload,
	}
}

var _ Message = &Request{}
