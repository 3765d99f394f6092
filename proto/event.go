package proto

// NamedEvent is implemented by event payloads.
type NamedEvent interface {
	EventName() string
}

type Event struct {
	Version string `json:"version"`
	ID      string `json:"id,omitempty"`
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
}

func (e *Event) MessageType() string {
	return "event"
}

func NewEvent(payload NamedEvent) *Event {
	return &Event{
		Version: Version,
		ID:      ID(),
		Event:   payload.EventName(),
		Data:    payload,
	}
}

var _ Message = &Event{}
