// Package chat is the state container of the client.
//
// Client owns the session, the conversation directory, the open
// conversation's history and the composer. Views subscribe to Change
// notices and read a consistent View snapshot on each one.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/omochice/pairchat/internal/composer"
	"github.com/omochice/pairchat/internal/directory"
	"github.com/omochice/pairchat/internal/errs"
	"github.com/omochice/pairchat/internal/history"
	"github.com/omochice/pairchat/internal/session"
	"github.com/omochice/pairchat/pkg/protocol"
)

// Fetcher serves the request/response channel.
type Fetcher interface {
	directory.Lister
	history.Loader
}

// Channel is the live push connection.
type Channel interface {
	Run(ctx context.Context, username string) error
	Send(ctx context.Context, msg protocol.Outbound) error
	Notifications() <-chan protocol.Notification
	States() <-chan bool
	IsConnected() bool
}

// View is a snapshot of the client state.
type View struct {
	State       session.State
	Username    string
	Contacts    []protocol.Contact
	Unread      map[string]int
	Counterpart string
	Messages    []protocol.Message
	Draft       string
	Connected   bool
}

// Client is the chat core.
type Client struct {
	sessions *session.Manager
	dir      *directory.Directory
	hist     *history.Store
	comp     *composer.Composer
	channel  Channel
	hub      *Hub
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates an Anonymous client. Pass nil logger for default.
func New(fetcher Fetcher, channel Channel, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		sessions: session.NewManager(log),
		dir:      directory.New(fetcher, log),
		hist:     history.New(fetcher, log),
		channel:  channel,
		hub:      NewHub(log),
		log:      log.With("component", "chat"),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.comp = composer.New(channel, c.refreshAfterSend, log)
	return c
}

// Login establishes the session, fetches the directory once and starts the
// live channel. Only validation errors are returned; a failed directory
// fetch leaves the directory empty.
func (c *Client) Login(ctx context.Context, candidate string) error {
	s, err := c.sessions.Establish(candidate)
	if err != nil {
		return err
	}
	c.hub.Publish(Change{Kind: ChangeSession})

	c.wg.Add(2)
	go c.runChannel(s.Username)
	go c.consume(s.Username)

	c.refreshDirectory(ctx, s.Username)
	return nil
}

// Select opens the conversation with counterpart and fetches its history.
// A failed fetch is absorbed and leaves the history empty.
func (c *Client) Select(ctx context.Context, counterpart string) error {
	s, ok := c.sessions.Current()
	if !ok {
		return errs.ErrNoSession
	}
	if counterpart == "" {
		err := &errs.ValidationError{Field: "counterpart", Err: errs.ErrNoCounterpart}
		c.log.Warn("Rejected selection", "error", err)
		return err
	}

	if c.hist.Select(counterpart) {
		c.dir.ClearUnread(counterpart)
		c.hub.Publish(Change{Kind: ChangeSelection, Counterpart: counterpart})
	}
	_ = c.refreshHistory(ctx, s.Username, counterpart)
	return nil
}

// SetDraft replaces the composed input.
func (c *Client) SetDraft(content string) {
	c.comp.SetDraft(content)
}

// Submit sends the composed input to the open conversation and refreshes
// its history. The draft is kept.
func (c *Client) Submit(ctx context.Context) error {
	s, _ := c.sessions.Current()
	return c.comp.Submit(ctx, composer.Draft{
		Sender:    s.Username,
		Recipient: c.hist.Counterpart(),
		Content:   c.comp.Draft(),
	})
}

// Refresh re-fetches the history of the open conversation.
func (c *Client) Refresh(ctx context.Context) error {
	s, ok := c.sessions.Current()
	if !ok {
		return errs.ErrNoSession
	}
	counterpart := c.hist.Counterpart()
	if counterpart == "" {
		return errs.ErrNoCounterpart
	}
	return c.refreshHistory(ctx, s.Username, counterpart)
}

// State returns the session/view state.
func (c *Client) State() session.State {
	return session.StateOf(c.sessions.Authenticated(), c.hist.Counterpart() != "")
}

// View returns a snapshot of the client state.
func (c *Client) View() View {
	s, _ := c.sessions.Current()
	counterpart := c.hist.Counterpart()
	return View{
		State:       session.StateOf(c.sessions.Authenticated(), counterpart != ""),
		Username:    s.Username,
		Contacts:    c.dir.Contacts(),
		Unread:      c.dir.UnreadCounts(),
		Counterpart: counterpart,
		Messages:    c.hist.Messages(),
		Draft:       c.comp.Draft(),
		Connected:   c.channel.IsConnected(),
	}
}

// Subscribe returns a channel of Change notices, closed when ctx is
// cancelled or the client is closed.
func (c *Client) Subscribe(ctx context.Context) <-chan Change {
	ch, _ := c.hub.Subscribe(ctx)
	return ch
}

// Close stops the live channel and any fetch in flight. The session is
// kept; there is no way back to Anonymous.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		c.hist.Close()
		c.wg.Wait()
		c.hub.Close()
	})
}

func (c *Client) runChannel(username string) {
	defer c.wg.Done()
	if err := c.channel.Run(c.ctx, username); err != nil {
		c.log.Error("Live channel exited", "error", err)
	}
}

// consume is the event loop for inbound notifications and connection
// transitions.
func (c *Client) consume(username string) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case connected := <-c.channel.States():
			c.log.Debug("Connection state changed", "connected", connected)
			c.hub.Publish(Change{Kind: ChangeConnection})
		case n := <-c.channel.Notifications():
			c.handleNotification(c.ctx, username, n)
		}
	}
}

// handleNotification refreshes the open conversation when n concerns it.
// A notification about another conversation marks it unread instead; the
// directory is only fetched at login, so the counterpart may be unlisted.
// Frames that name no conversation of this user refresh the open
// conversation.
func (c *Client) handleNotification(ctx context.Context, username string, n protocol.Notification) {
	open := c.hist.Counterpart()
	counterpart, ok := n.CounterpartOf(username)

	switch {
	case !ok:
		c.log.Debug("Unscoped notification", "open", open)
		if open != "" {
			_ = c.refreshHistory(ctx, username, open)
		}
	case counterpart == open:
		_ = c.refreshHistory(ctx, username, open)
	default:
		unread := c.dir.MarkUnread(counterpart)
		c.log.Debug("Notification for other conversation",
			"counterpart", counterpart, "unread", unread, "listed", c.dir.Contains(counterpart))
		c.hub.Publish(Change{Kind: ChangeDirectory, Counterpart: counterpart})
	}
}

func (c *Client) refreshAfterSend(ctx context.Context) {
	s, ok := c.sessions.Current()
	counterpart := c.hist.Counterpart()
	if !ok || counterpart == "" {
		return
	}
	_ = c.refreshHistory(ctx, s.Username, counterpart)
}

func (c *Client) refreshDirectory(ctx context.Context, username string) {
	// Failures are logged by the directory and keep the previous list.
	if applied, _ := c.dir.Refresh(ctx, username); applied {
		c.hub.Publish(Change{Kind: ChangeDirectory})
	}
}

func (c *Client) refreshHistory(ctx context.Context, username, counterpart string) error {
	applied, err := c.hist.Refresh(ctx, username, counterpart)
	if applied {
		c.hub.Publish(Change{Kind: ChangeHistory, Counterpart: counterpart})
	}
	return err
}
