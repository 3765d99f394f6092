package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Code is the application status code of a response. The backend sends it as
// a string but numbers are accepted too.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("rpc: code must be a string or number: %w", err)
	}
	*c = Code(n.String())
	return nil
}

// IsSuccess reports whether code denotes success. "200" and "100" are both
// success and are treated the same.
func IsSuccess(code Code) bool {
	return code == "200" || code == "100"
}

type Response struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (r *Response) OK() bool {
	return IsSuccess(r.Code)
}

// Err returns nil on success and an *ApplicationError otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &ApplicationError{Code: r.Code, Message: r.Message}
}

// Decode unmarshals Data into v. Absent data leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("rpc: decode data: %w", err)
	}
	return nil
}
