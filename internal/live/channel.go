// Package live maintains the persistent push connection of a session.
//
// The channel dials the server with the session username as a query
// parameter, forwards every inbound frame as a Notification and carries
// outbound message payloads. A dropped connection is redialled at a fixed
// interval for as long as the run context is alive.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/omochice/pairchat/internal/errs"
	"github.com/omochice/pairchat/internal/transport"
	"github.com/omochice/pairchat/internal/transport/ws"
	"github.com/omochice/pairchat/pkg/protocol"
)

const (
	DefaultRetryInterval = time.Second
	DefaultDialTimeout   = 5 * time.Second
	DefaultBuffer        = 64

	stateBuffer = 8
)

// Config holds the live channel settings.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:12345/ws.
	URL           string
	RetryInterval time.Duration
	DialTimeout   time.Duration
	// Buffer is the capacity of the notification channel.
	Buffer int
}

// DialFunc opens a frame connection to url.
type DialFunc func(ctx context.Context, url string) (transport.Conn, error)

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the gobwas/ws dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Channel) { c.dial = dial }
}

// Channel is the Live Channel Adapter.
type Channel struct {
	cfg  Config
	log  *slog.Logger
	dial DialFunc

	notifications chan protocol.Notification
	states        chan bool

	mu          sync.RWMutex
	conn        transport.Conn
	running     bool
	connections int
}

// New creates a Channel. Zero config fields take their defaults. Pass nil
// logger for default.
func New(cfg Config, log *slog.Logger, opts ...Option) *Channel {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	c := &Channel{
		cfg: cfg,
		log: log.With("component", "live"),
		dial: func(ctx context.Context, url string) (transport.Conn, error) {
			return ws.Dial(ctx, url)
		},
		notifications: make(chan protocol.Notification, cfg.Buffer),
		states:        make(chan bool, stateBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects as username and keeps the connection alive until ctx is
// done. Disconnects are never reported to the caller; they are logged and
// redialled after RetryInterval. Run returns nil once ctx is done.
func (c *Channel) Run(ctx context.Context, username string) error {
	if username == "" {
		return &errs.ValidationError{Field: "username", Err: errs.ErrEmptyUsername}
	}
	endpoint, err := Endpoint(c.cfg.URL, username)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errs.ErrChannelRunning
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		err := c.serve(ctx, endpoint)
		if ctx.Err() != nil {
			c.log.Info("Live channel stopped", "username", username)
			return nil
		}

		c.log.Info("Live channel disconnected, retrying",
			"username", username,
			"error", err,
			"retry_in", c.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.RetryInterval):
		}
	}
}

// serve dials once and pumps inbound frames until the connection fails.
func (c *Channel) serve(ctx context.Context, endpoint string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dial(dialCtx, endpoint)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.setConn(conn)
	defer c.setConn(nil)
	defer conn.Close()

	c.log.Info("Live channel connected", "remote", conn.RemoteAddr())

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}

		var n protocol.Notification
		if err := n.Decode(data); err != nil {
			// Still a change signal.
			c.log.Debug("Received opaque frame", "error", err)
		}
		c.publish(n)
	}
}

// publish never blocks the read loop. When the buffer is full the
// notification is dropped; the pending ones already trigger a refresh.
func (c *Channel) publish(n protocol.Notification) {
	select {
	case c.notifications <- n:
	default:
		c.log.Debug("Notification buffer full, dropping frame")
	}
}

func (c *Channel) setConn(conn transport.Conn) {
	c.mu.Lock()
	c.conn = conn
	if conn != nil {
		c.connections++
	}
	c.mu.Unlock()

	select {
	case c.states <- conn != nil:
	default:
		c.log.Debug("State buffer full, dropping transition", "connected", conn != nil)
	}
}

// Send writes an outbound payload to the current connection. It does not
// wait for any acknowledgement.
func (c *Channel) Send(ctx context.Context, msg protocol.Outbound) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errs.ErrNotConnected
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Notifications returns the channel of inbound frames.
func (c *Channel) Notifications() <-chan protocol.Notification {
	return c.notifications
}

// States returns the channel of connect (true) and disconnect (false)
// transitions.
func (c *Channel) States() <-chan bool {
	return c.states
}

// IsConnected returns whether a connection is currently open.
func (c *Channel) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Connections returns the number of successful dials so far.
func (c *Channel) Connections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connections
}

// Endpoint builds the connection URL for username, keeping any query
// parameters already present in base.
func Endpoint(base, username string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid live channel url: %w", err)
	}
	q := u.Query()
	q.Set("username", username)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
