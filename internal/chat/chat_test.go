package chat

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityWireSpelling(t *testing.T) {
	msg := Message{Sender: User("bob"), Recipient: Admin(), Text: "help", Timestamp: 42}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sender":"bob","recipient":"admin","text":"help","timestamp":42}`, string(data))

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg, decoded)
	assert.True(t, decoded.Recipient.IsAdmin())
	assert.Equal(t, "bob", decoded.Sender.UserID())
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID("  bob ")
	require.NoError(t, err)
	assert.Equal(t, "bob", id)

	_, err = ParseUserID("")
	assert.True(t, errors.Is(err, ErrEmptyUserID))

	_, err = ParseUserID("Admin")
	assert.True(t, errors.Is(err, ErrReservedUserID))
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"user to admin", Message{Sender: User("bob"), Recipient: Admin(), Text: "hi"}, nil},
		{"admin to user", Message{Sender: Admin(), Recipient: User("bob"), Text: "hi"}, nil},
		{"self addressed", Message{Sender: User("bob"), Recipient: User("bob"), Text: "hi"}, nil},
		{"empty text", Message{Sender: User("bob"), Recipient: Admin()}, ErrEmptyText},
		{"no recipient", Message{Sender: User("bob"), Text: "hi"}, ErrMissingRecipient},
		{"admin to admin", Message{Sender: Admin(), Recipient: Admin(), Text: "hi"}, ErrNoUserParty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestTranscriptKey(t *testing.T) {
	assert.Equal(t, "bob", Message{Sender: User("bob"), Recipient: Admin()}.TranscriptKey())
	assert.Equal(t, "bob", Message{Sender: Admin(), Recipient: User("bob")}.TranscriptKey())
	assert.Equal(t, "alice", Message{Sender: User("alice"), Recipient: User("bob")}.TranscriptKey())
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{"register username", `{"type":"register","username":"bob"}`, RegisterEvent{UserID: "bob"}},
		{"init userId", `{"type":"init","userId":"bob"}`, RegisterEvent{UserID: "bob"}},
		{"typed message", `{"type":"message","text":"hi"}`, MessageEvent{Text: "hi"}},
		{"typed message with to", `{"type":"message","text":"hi","to":"bob"}`, MessageEvent{Recipient: "bob", Text: "hi"}},
		{"flat message", `{"sender":"bob","recipient":"admin","text":"hi"}`, MessageEvent{Sender: "bob", Recipient: "admin", Text: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "hello", "[1,2]", `{"text":`, `{}`} {
		_, err := DecodeEvent([]byte(raw))
		assert.Error(t, err, "frame %q", raw)
	}

	_, err := DecodeEvent([]byte(`{"type":"typing"}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = DecodeEvent([]byte(`not json`))
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}
