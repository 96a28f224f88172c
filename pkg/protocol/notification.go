package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Notification is an inbound live-channel frame. Frames are opaque: any
// payload counts as a change signal, and Sender/Recipient are filled only
// when the frame is a JSON object carrying them.
type Notification struct {
	Sender    string
	Recipient string
	Content   string
	Raw       []byte
}

// Decode parses a frame. Raw is always populated, even when the frame is not
// JSON and an error is returned, so callers can still treat it as a signal.
func (n *Notification) Decode(data []byte) error {
	n.Raw = append([]byte(nil), data...)

	value := &structpb.Value{}
	if err := protojson.Unmarshal(data, value); err != nil {
		return fmt.Errorf("failed to decode notification: %w", err)
	}
	n.fromValue(value)
	return nil
}

// fromValue copies the well-known keys out of a generic JSON value.
// Non-object values and non-string fields leave the corresponding field empty.
func (n *Notification) fromValue(value *structpb.Value) {
	fields := value.GetStructValue().GetFields()
	n.Sender = fields["sender"].GetStringValue()
	n.Recipient = fields["recipient"].GetStringValue()
	n.Content = fields["content"].GetStringValue()
}

// Conversation returns the conversation the frame pertains to, if both
// participants are present.
func (n *Notification) Conversation() (ConversationID, bool) {
	if n.Sender == "" || n.Recipient == "" {
		return ConversationID{}, false
	}
	return NewConversationID(n.Sender, n.Recipient), true
}

// CounterpartOf returns the other participant of the frame's conversation
// as seen by self. It fails when the frame does not name a conversation
// that self takes part in.
func (n *Notification) CounterpartOf(self string) (string, bool) {
	conv, ok := n.Conversation()
	if !ok {
		return "", false
	}
	return conv.Counterpart(self)
}
