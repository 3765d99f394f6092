// Package proto defines the signaling wire envelope: requests correlated to
// responses by id, plus fire-and-forget events. Every frame is one JSON object.
package proto

import (
	"encoding/json"
	"fmt"
)

const Version = "1"

type Message interface {
	MessageType() string
}

type rawMessage struct {
	Version  string          `json:"version,omitempty"`
	ID       string          `json:"id,omitempty"`
	Method   string          `json:"method,omitempty"`
	Response string          `json:"response,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *ResponseError  `json:"error,omitempty"`
}

func optional(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func ParseMessage(raw []byte) (Message, error) {
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}

	if msg.Event != "" {
		return &Event{
			Version: msg.Version,
			ID:      msg.ID,
			Event:   msg.Event,
			Data:    optional(msg.Data),
		}, nil
	} else if msg.Method != "" {
		return &Request{
			Version: msg.Version,
			ID:      msg.ID,
			Method:  msg.Method,
			Params:  optional(msg.Params),
		}, nil
	} else if msg.Response != "" {
		return &Response{
			Version:  msg.Version,
			Response: msg.Response,
			Result:   optional(msg.Result),
			Error:    msg.Error,
		}, nil
	}

	return nil, fmt.Errorf("unknown message type: %s", raw)
}
