package server

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/omochice/pairchat/pkg/protocol"
)

// Store keeps every delivered message in memory.
type Store struct {
	mu       sync.RWMutex
	messages []protocol.Message
	now      func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Append assigns an ID and a timestamp to msg and records it.
func (s *Store) Append(msg protocol.Message) protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.Timestamp = s.now().UTC()
	s.messages = append(s.messages, msg)
	return msg
}

// History returns the messages exchanged between username and receiver in
// either direction, oldest first.
func (s *Store) History(username, receiver string) []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := lo.Filter(s.messages, func(m protocol.Message, _ int) bool {
		return (m.Sender == username && m.Recipient == receiver) ||
			(m.Sender == receiver && m.Recipient == username)
	})
	slices.SortStableFunc(out, func(a, b protocol.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

// Chats returns every user username has exchanged messages with, sorted by
// name. A message without recipient contributes an empty username.
func (s *Store) Chats(username string) []protocol.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, m := range s.messages {
		if m.Sender != username && m.Recipient != username {
			continue
		}
		if m.Sender != username {
			names = append(names, m.Sender)
		}
		if m.Recipient != username {
			names = append(names, m.Recipient)
		}
	}
	names = lo.Uniq(names)
	slices.Sort(names)

	return lo.Map(names, func(name string, _ int) protocol.Contact {
		return protocol.Contact{Username: name}
	})
}
