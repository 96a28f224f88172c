//go:generate go run go.uber.org/mock/mockgen -source=history.go -destination=../mocks/mock_history.go -package=mocks

// Package history holds the message list of the open conversation.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omochice/pairchat/internal/errs"
	"github.com/omochice/pairchat/pkg/protocol"
)

// Loader issues the "get history between user and counterpart" request.
type Loader interface {
	History(ctx context.Context, username, counterpart string) ([]protocol.Message, error)
}

// Store holds the history of the selected counterpart. Every applied fetch
// replaces the list wholesale.
//
// Fetches are tagged with a generation number. A response is applied only
// when its counterpart is still selected, it was issued after the selection
// was made and no newer response was applied before it.
type Store struct {
	mu          sync.Mutex
	loader      Loader
	log         *slog.Logger
	counterpart string
	messages    []protocol.Message

	issued   uint64
	applied  uint64
	selected uint64

	selCtx    context.Context
	selCancel context.CancelFunc
}

// New creates an empty Store with no selection. Pass nil logger for default.
func New(loader Loader, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		loader:    loader,
		log:       log.With("component", "history"),
		messages:  []protocol.Message{},
		selCtx:    ctx,
		selCancel: cancel,
	}
}

// Select makes counterpart the open conversation. The stored history is
// cleared and fetches still in flight for the previous selection are
// cancelled. Selecting the current counterpart again is a no-op and reports
// false.
func (s *Store) Select(counterpart string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if counterpart == s.counterpart {
		return false
	}
	s.selCancel()
	s.selCtx, s.selCancel = context.WithCancel(context.Background())
	s.counterpart = counterpart
	s.messages = []protocol.Message{}
	s.selected = s.issued
	s.applied = s.issued
	s.log.Debug("Counterpart selected", "counterpart", counterpart)
	return true
}

// Refresh fetches the history between username and counterpart and replaces
// the stored list. counterpart must be the selected one. On failure the
// previous history is kept. A superseded response is dropped with
// errs.ErrStaleResponse.
func (s *Store) Refresh(ctx context.Context, username, counterpart string) (bool, error) {
	s.mu.Lock()
	if counterpart == "" || s.counterpart == "" {
		s.mu.Unlock()
		return false, errs.ErrNoCounterpart
	}
	if counterpart != s.counterpart {
		s.mu.Unlock()
		return false, errs.ErrStaleResponse
	}
	s.issued++
	generation := s.issued
	selCtx := s.selCtx
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(selCtx, cancel)
	defer stop()

	messages, err := s.loader.History(ctx, username, counterpart)

	s.mu.Lock()
	defer s.mu.Unlock()

	stale := counterpart != s.counterpart || generation <= s.selected || generation < s.applied
	if err != nil {
		if stale && errors.Is(err, context.Canceled) {
			s.log.Debug("Cancelled superseded history fetch", "counterpart", counterpart, "generation", generation)
			return false, errs.ErrStaleResponse
		}
		s.log.Warn("Failed to refresh history", "counterpart", counterpart, "error", err)
		return false, fmt.Errorf("refresh history: %w", err)
	}
	if stale {
		s.log.Debug("Dropped stale history response",
			"counterpart", counterpart,
			"selected", s.counterpart,
			"generation", generation,
			"applied", s.applied)
		return false, errs.ErrStaleResponse
	}

	if messages == nil {
		messages = []protocol.Message{}
	}
	s.applied = generation
	s.messages = messages
	s.log.Debug("History replaced", "counterpart", counterpart, "count", len(messages))
	return true, nil
}

// Messages returns a copy of the stored history in server order.
func (s *Store) Messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Counterpart returns the selected counterpart, or "" when nothing is open.
func (s *Store) Counterpart() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Close cancels any fetch still in flight.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selCancel()
}
