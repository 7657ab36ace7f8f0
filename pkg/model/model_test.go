package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusSent.CanAdvanceTo(StatusDelivered))
	assert.True(t, StatusDelivered.CanAdvanceTo(StatusRead))

	assert.False(t, StatusSent.CanAdvanceTo(StatusRead), "sent must not skip delivered")
	assert.False(t, StatusDelivered.CanAdvanceTo(StatusSent))
	assert.False(t, StatusRead.CanAdvanceTo(StatusDelivered))
	assert.False(t, StatusRead.CanAdvanceTo(StatusRead))
	assert.False(t, Status("").CanAdvanceTo(StatusSent))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("delivered")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, s)

	_, err = ParseStatus("seen")
	assert.Error(t, err)
}

func TestConversationID(t *testing.T) {
	assert.Equal(t, "dm:alice:bob", ConversationID("bob", "alice"))
	assert.Equal(t, ConversationID("alice", "bob"), ConversationID("bob", "alice"))

	a, b, err := Participants("dm:alice:bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	for _, bad := range []string{"general", "dm:alice", "dm::bob", "dm:alice:", "dm:a:b:c", "dm:bob:alice", "dm:alice:alice"} {
		_, _, err := Participants(bad)
		assert.ErrorIs(t, err, ErrInvalidConversation, bad)
	}

	other, err := OtherParticipant("dm:alice:bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", other)

	_, err = OtherParticipant("dm:alice:bob", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = OtherParticipant("general", "alice")
	assert.ErrorIs(t, err, ErrInvalidConversation)
}

func TestEventWireFormat(t *testing.T) {
	raw, err := json.Marshal(PresenceUpdate("alice", PresenceOnline))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PRESENCE_UPDATE","userId":"alice","status":"online"}`, string(raw))

	raw, err = json.Marshal(PresenceSnapshot(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PRESENCE_SNAPSHOT","payload":[]}`, string(raw))

	raw, err = json.Marshal(StatusUpdate(42, StatusDelivered))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"STATUS_UPDATE","messageId":42,"status":"delivered"}`, string(raw))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err = json.Marshal(NewMessageEvent(Message{
		ID: 7, ConversationID: "dm:a:b", SenderID: "a", ReceiverID: "b",
		Content: "hi", Status: StatusSent, CreatedAt: ts,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"NEW_MESSAGE","payload":{"id":7,"conversation_id":"dm:a:b",
		"sender_id":"a","receiver_id":"b","content":"hi","status":"sent",
		"created_at":"2026-01-02T03:04:05Z"}}`, string(raw))

	raw, err = json.Marshal(NewMessageNotification(UnreadSummary{
		ConversationID: "dm:a:b", LastMessage: "hi", LastMessageSenderID: "a",
		LastMessageTimestamp: ts, UnreadCount: 2,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"NEW_MESSAGE_NOTIFICATION","payload":{"conversationId":"dm:a:b",
		"lastMessage":"hi","lastMessageSenderId":"a",
		"lastMessageTimestamp":"2026-01-02T03:04:05Z","unreadCount":2}}`, string(raw))
}

func TestInboundDecode(t *testing.T) {
	var in Inbound
	require.NoError(t, json.Unmarshal([]byte(`{"type":"NEW_MESSAGE","payload":{"receiverId":"b","content":"yo","conversationId":"dm:a:b"}}`), &in))
	assert.Equal(t, EventNewMessage, in.Type)

	var out OutgoingMessage
	require.NoError(t, json.Unmarshal(in.Payload, &out))
	assert.Equal(t, "b", out.ReceiverID)
	assert.Equal(t, "yo", out.Content)
	assert.Equal(t, "dm:a:b", out.ConversationID)
}
