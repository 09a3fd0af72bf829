package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseInboundPrivateMessage(t *testing.T) {
	frame := `{
		"type": "PRIVATE_MESSAGE",
		"message": {
			"id": "m42",
			"fromUserId": "u1",
			"fromDisplayName": "Ada",
			"content": "hello",
			"timestamp": "2025-03-01T12:00:00Z",
			"read": false
		}
	}`

	ev, err := Parse([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, EventPrivateMessage, ev.Type)
	require.NotNil(t, ev.Message)
	require.Equal(t, "m42", ev.Message.ID)
	require.Equal(t, "u1", ev.Message.FromUserID)
	require.Equal(t, "hello", ev.Message.Content)
	require.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), ev.Message.Timestamp)
}

func TestParseOnlineUsersSnapshot(t *testing.T) {
	ev, err := Parse([]byte(`{"type":"ONLINE_USERS","users":["u1","u2"]}`))
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, ev.Users)

	// empty snapshot is valid
	ev, err = Parse([]byte(`{"type":"ONLINE_USERS"}`))
	require.NoError(t, err)
	require.Empty(t, ev.Users)
}

func TestParseGroupCreated(t *testing.T) {
	frame := `{"type":"GROUP_CREATED","group":{"id":"g1","name":"Ops","memberIds":["u1","u2"]},"createdBy":"u2","createdByName":"Grace"}`
	ev, err := Parse([]byte(frame))
	require.NoError(t, err)
	require.Equal(t, "g1", ev.Group.ID)
	require.Equal(t, "Ops", ev.Group.Name)
	require.Equal(t, "u2", ev.CreatedBy)
}

func TestParseRejectsMalformedFrames(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"type":"NO_SUCH_EVENT"}`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"content":"orphan"}`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"type":"USER_ONLINE"}`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"type":"TYPING","chatId":"u1-u2"}`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"type":"GROUP_CREATED","group":{"name":"no id"}}`))
	require.Error(t, err)
}

func TestOutboundConstructorsEncodeExpectedShape(t *testing.T) {
	b, err := NewPrivateMessage("u2", "hi there").Encode()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, "PRIVATE_MESSAGE", m["type"])
	require.Equal(t, "u2", m["toUserId"])
	require.Equal(t, "hi there", m["content"])
	require.NotContains(t, m, "message")
	require.NotContains(t, m, "groupId")

	b, err = NewTyping("u1-u2", ChatTypePrivate, "u1").Encode()
	require.NoError(t, err)
	m = map[string]any{}
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, "TYPING", m["type"])
	require.Equal(t, "private", m["chatType"])

	b, err = NewUserOnline("u1").Encode()
	require.NoError(t, err)
	m = map[string]any{}
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, map[string]any{"type": "USER_ONLINE", "userId": "u1"}, m)
}
