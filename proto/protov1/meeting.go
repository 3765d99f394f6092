package protov1

import (
	"fmt"

	"github.com/tiatele/telecore/proto"
)

const (
	MethodMeetingJoin   = "meeting.join"
	MethodMeetingCreate = "meeting.create"
	EventMeetingEnded   = "meeting.ended"
)

type MeetingJoinRequest struct {
	MeetingID      string `json:"meetingId"`
	SessionID      string `json:"sessionId"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
}

func (r *MeetingJoinRequest) MethodName() string {
	return MethodMeetingJoin
}

func (r *MeetingJoinRequest) Validate() error {
	if r.MeetingID == "" {
		return fmt.Errorf("meeting.join meetingId is required")
	}
	return nil
}

// MeetingJoinResponse carries the room fragment the conferencing engine
// appends to its base URL. An empty Room means the meeting id itself.
type MeetingJoinResponse struct {
	MeetingID string `json:"meetingId"`
	Room      string `json:"room,omitempty"`
}

type MeetingCreateRequest struct {
	SessionID      string   `json:"sessionId"`
	UserID         string   `json:"userId"`
	OrganizationID string   `json:"organizationId,omitempty"`
	Title          string   `json:"title,omitempty"`
	Participants   []string `json:"participants,omitempty"`
}

func (r *MeetingCreateRequest) MethodName() string {
	return MethodMeetingCreate
}

type MeetingCreateResponse struct {
	MeetingID string `json:"meetingId"`
	Room      string `json:"room,omitempty"`
}

type MeetingEndedEvent struct {
	MeetingID string `json:"meetingId"`
}

func (e *MeetingEndedEvent) EventName() string {
	return EventMeetingEnded
}

var (
	_ proto.NamedRequest = &MeetingJoinRequest{}
	_ proto.NamedRequest = &MeetingCreateRequest{}
	_ proto.NamedEvent   = &MeetingEndedEvent{}
)
