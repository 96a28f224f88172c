package protocol_test

import (
	"testing"

	"github.com/omochice/pairchat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotification_Decode(t *testing.T) {
	var n protocol.Notification
	frame := []byte(`{"sender":"alice","recipient":"bob","content":"hi","timestamp":"2024-03-01T10:00:00Z"}`)

	require.NoError(t, n.Decode(frame))
	assert.Equal(t, "alice", n.Sender)
	assert.Equal(t, "bob", n.Recipient)
	assert.Equal(t, "hi", n.Content)
	assert.Equal(t, frame, n.Raw)
}

func TestNotification_Decode_OpaqueFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
	}{
		{name: "array", frame: `[1,2,3]`},
		{name: "string", frame: `"refresh"`},
		{name: "object without parties", frame: `{"type":"typing"}`},
		{name: "plain text", frame: `something changed`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n protocol.Notification
			err := n.Decode([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, []byte(tt.frame), n.Raw)

			_, ok := n.Conversation()
			assert.False(t, ok)
		})
	}
}

func TestNotification_CounterpartOf(t *testing.T) {
	n := protocol.Notification{Sender: "alice", Recipient: "bob"}

	got, ok := n.CounterpartOf("alice")
	require.True(t, ok)
	assert.Equal(t, "bob", got)

	got, ok = n.CounterpartOf("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", got)

	_, ok = n.CounterpartOf("carol")
	assert.False(t, ok)

	_, ok = (&protocol.Notification{Sender: "alice"}).CounterpartOf("alice")
	assert.False(t, ok)
}

func TestConversationID(t *testing.T) {
	ab := protocol.NewConversationID("alice", "bob")
	ba := protocol.NewConversationID("bob", "alice")

	assert.Equal(t, ab, ba)
	assert.Equal(t, "alice|bob", ab.String())
	assert.True(t, ab.Involves("alice"))
	assert.False(t, ab.Involves("carol"))
	assert.False(t, ab.IsZero())

	var zero protocol.ConversationID
	assert.True(t, zero.IsZero())
	assert.False(t, zero.Involves(""))
	assert.Empty(t, zero.String())
}
