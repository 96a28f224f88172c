//go:generate go run go.uber.org/mock/mockgen -source=directory.go -destination=../mocks/mock_directory.go -package=mocks
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/omochice/pairchat/internal/errs"
	"github.com/omochice/pairchat/pkg/protocol"
)

// Lister issues the "list chats for user" request.
type Lister interface {
	Contacts(ctx context.Context, username string) ([]protocol.Contact, error)
}

// Directory is the in-memory list of counterparts reachable by the session
// user. Each successful refresh replaces the list wholesale.
type Directory struct {
	mu       sync.RWMutex
	lister   Lister
	log      *slog.Logger
	contacts []protocol.Contact
	unread   map[string]int

	issued  uint64
	applied uint64
}

// New creates an empty Directory. Pass nil logger for default.
func New(lister Lister, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{
		lister:   lister,
		log:      log.With("component", "directory"),
		contacts: []protocol.Contact{},
		unread:   make(map[string]int),
	}
}

// Refresh fetches the contact list of username and replaces the current one.
// On failure the previous list is kept and the error is returned for the
// caller to absorb. A response older than one already applied is dropped
// with errs.ErrStaleResponse.
func (d *Directory) Refresh(ctx context.Context, username string) (bool, error) {
	d.mu.Lock()
	d.issued++
	generation := d.issued
	d.mu.Unlock()

	contacts, err := d.lister.Contacts(ctx, username)
	if err != nil {
		d.log.Warn("Failed to refresh contacts", "username", username, "error", err)
		return false, fmt.Errorf("refresh contacts: %w", err)
	}

	// The original server reports an empty counterpart for messages that
	// carried no recipient.
	contacts = lo.Filter(contacts, func(c protocol.Contact, _ int) bool {
		return c.Username != ""
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	if generation < d.applied {
		d.log.Debug("Dropped stale contacts response", "generation", generation, "applied", d.applied)
		return false, errs.ErrStaleResponse
	}
	d.applied = generation
	d.contacts = contacts
	d.log.Debug("Contacts replaced", "count", len(contacts))
	return true, nil
}

// Contacts returns a copy of the current list.
func (d *Directory) Contacts() []protocol.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.Contact, len(d.contacts))
	copy(out, d.contacts)
	return out
}

// Contains reports whether username is in the current list.
func (d *Directory) Contains(username string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.ContainsBy(d.contacts, func(c protocol.Contact) bool {
		return c.Username == username
	})
}

// MarkUnread records activity in a conversation that is not open.
func (d *Directory) MarkUnread(username string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unread[username]++
	return d.unread[username]
}

// ClearUnread forgets pending activity for username.
func (d *Directory) ClearUnread(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.unread, username)
}

// Unread returns the number of notifications seen for username since it was
// last opened.
func (d *Directory) Unread(username string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.unread[username]
}

// UnreadCounts returns a copy of all pending unread counters.
func (d *Directory) UnreadCounts() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.unread))
	for k, v := range d.unread {
		out[k] = v
	}
	return out
}
