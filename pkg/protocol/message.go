// Package protocol defines the wire records exchanged with the chat server.
//
// Bulk reads (directory, history) and the live channel both carry JSON.
// Outbound live payloads always include all three keys; inbound records
// tolerate missing fields.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Contact is one entry of the conversation directory.
type Contact struct {
	Username string `json:"username"`
}

// Message is one record of a conversation history. Sender and Recipient
// may be absent on records produced by older servers.
type Message struct {
	ID        string    `json:"_id,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Outbound is the payload written to the live channel for a new message.
type Outbound struct {
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
}

// Encode encodes the payload into a JSON text frame.
func (o *Outbound) Encode() ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbound message: %w", err)
	}
	return data, nil
}

// Decode decodes a JSON text frame into the payload.
func (o *Outbound) Decode(data []byte) error {
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("failed to decode outbound message: %w", err)
	}
	return nil
}

// Conversation returns the conversation the payload belongs to.
func (o *Outbound) Conversation() ConversationID {
	return NewConversationID(o.Sender, o.Recipient)
}

// DecodeContacts decodes a directory response body.
// A JSON null body decodes to an empty, non-nil list.
func DecodeContacts(data []byte) ([]Contact, error) {
	var contacts []Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("failed to decode contacts: %w", err)
	}
	if contacts == nil {
		contacts = []Contact{}
	}
	return contacts, nil
}

// DecodeMessages decodes a history response body.
// A JSON null body decodes to an empty, non-nil list.
func DecodeMessages(data []byte) ([]Message, error) {
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}
