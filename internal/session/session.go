// Package session owns the authenticated identity of a running client.
//
// A Manager starts Anonymous and moves to Authenticated on the first valid
// Establish call. Nothing moves it back.
package session

import (
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/omochice/pairchat/internal/errs"
)

var validate = validator.New()

// State is the combined session/view state of the client.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticatedNoSelection
	StateAuthenticatedWithSelection
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "ANONYMOUS"
	case StateAuthenticatedNoSelection:
		return "AUTHENTICATED_NO_SELECTION"
	case StateAuthenticatedWithSelection:
		return "AUTHENTICATED_WITH_SELECTION"
	default:
		return "UNKNOWN"
	}
}

// StateOf derives the view state from whether a session exists and whether a
// counterpart is selected. A selection without a session is not a state.
func StateOf(authenticated, selected bool) State {
	switch {
	case !authenticated:
		return StateAnonymous
	case selected:
		return StateAuthenticatedWithSelection
	default:
		return StateAuthenticatedNoSelection
	}
}

// Session is the identity held by the client. Only the plaintext username
// is ever sent to the server.
type Session struct {
	Username string `validate:"required"`
}

// Manager holds at most one Session.
type Manager struct {
	mu      sync.RWMutex
	log     *slog.Logger
	current *Session
}

// NewManager creates an Anonymous Manager. Pass nil logger for default.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log.With("component", "session")}
}

// Establish validates candidate and, on success, makes it the session
// identity. An empty candidate leaves the Manager Anonymous.
func (m *Manager) Establish(candidate string) (Session, error) {
	s := Session{Username: candidate}
	if err := validate.Struct(s); err != nil {
		err = errs.FromValidator(err, map[string]error{"username": errs.ErrEmptyUsername})
		m.log.Warn("Rejected login", "error", err)
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return *m.current, errs.ErrAlreadyAuthenticated
	}
	m.current = &s
	m.log.Info("Session established", "username", s.Username)
	return s, nil
}

// Current returns the session, if one was established.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Authenticated reports whether a session exists.
func (m *Manager) Authenticated() bool {
	_, ok := m.Current()
	return ok
}
