package proto

import (
	"encoding/json"
	"fmt"
)

type Response struct {
	Version  string         `json:"version,omitempty"`
	Response string         `json:"response"`
	Result   any            `json:"result,omitempty"`
	Error    *ResponseError `json:"error,omitempty"`
}

func (r *Response) MessageType() string {
	return "response"
}

func (r *Response) Ok() bool {
	return r.Error == nil
}

var _ Message = &Response{}

// As decodes a message payload (request params, response result or event
// data) into T. Payloads of parsed messages are raw JSON; locally built ones
// are re-encoded first.
func As[T any](v any) (*T, error) {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return nil, fmt.Errorf("decode %T: empty payload", *new(T))
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal into %T: %w", out, err)
	}
	return &out, nil
}
