package proto

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type joinParams struct {
	MeetingID string `json:"meetingId"`
}

func (*joinParams) MethodName() string { return "meeting.join" }

func (p *joinParams) Validate() error {
	if p.MeetingID == "" {
		return fmt.Errorf("meetingId is required")
	}
	return nil
}

func TestError(t *testing.T) {
	// create a cause
	cause := NewBadRequestError(fmt.Errorf("x is required"))
	require.Error(t, cause)

	// convert to response error
	re := ToResponseError(cause)
	require.Error(t, re, "must be an error")
	require.Equal(t, re, cause, "must be the same cause")
	require.Equal(t, ErrStatusBadRequest, re.Code, "code is correct")

	res := NewRequest(&joinParams{MeetingID: "ABC123"}).NotOk(re)
	require.Equal(t, ErrStatusBadRequest, res.Error.Code, "code is correct")
	require.Equal(t, "x is required", res.Error.Message, "message is correct")
	require.Nil(t, res.Result, "no result")
	_, err := json.Marshal(&res)
	require.NoError(t, err, "can json encode")

	require.Equal(t, ErrInternalServerError, ToResponseError(fmt.Errorf("boom")).Code)
}

func TestParseMessage(t *testing.T) {
	req := NewRequest(&joinParams{MeetingID: "ABC123"})
	require.NoError(t, req.Validate())
	require.Error(t, NewRequest(&joinParams{}).Validate())

	data, err := json.Marshal(req)
	require.NoError(t, err)

	msg, err := ParseMessage(data)
	require.NoError(t, err)
	parsed, ok := msg.(*Request)
	require.True(t, ok)
	require.Equal(t, req.ID, parsed.ID)
	require.Equal(t, "meeting.join", parsed.Method)

	params, err := As[joinParams](parsed.Params)
	require.NoError(t, err)
	require.Equal(t, "ABC123", params.MeetingID)

	data, err = json.Marshal(parsed.Ok(map[string]string{"room": "ABC123"}))
	require.NoError(t, err)
	msg, err = ParseMessage(data)
	require.NoError(t, err)
	res, ok := msg.(*Response)
	require.True(t, ok)
	require.True(t, res.Ok())
	require.Equal(t, req.ID, res.Response)

	msg, err = ParseMessage([]byte(`{"version":"1","event":"session.disconnect","data":{"reason":"bye"}}`))
	require.NoError(t, err)
	require.Equal(t, "event", msg.MessageType())

	_, err = ParseMessage([]byte(`{"version":"1"}`))
	require.Error(t, err)
	_, err = ParseMessage([]byte(`not json`))
	require.Error(t, err)

	_, err = As[joinParams](nil)
	require.Error(t, err)
}
