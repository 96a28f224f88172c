//go:generate go run go.uber.org/mock/mockgen -source=composer.go -destination=../mocks/mock_composer.go -package=mocks

// Package composer validates and dispatches outgoing messages.
package composer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/omochice/pairchat/internal/errs"
	"github.com/omochice/pairchat/pkg/protocol"
)

var validate = validator.New()

// Sender carries an outbound payload over the live channel.
type Sender interface {
	Send(ctx context.Context, msg protocol.Outbound) error
}

// RefreshFunc re-fetches the history of the current counterpart.
type RefreshFunc func(ctx context.Context)

// Draft is a message being composed.
type Draft struct {
	Sender    string `validate:"required"`
	Recipient string `validate:"required"`
	Content   string `validate:"required"`
}

// Outbound converts the draft into its wire payload.
func (d Draft) Outbound() protocol.Outbound {
	return protocol.Outbound{
		Recipient: d.Recipient,
		Sender:    d.Sender,
		Content:   d.Content,
	}
}

var causes = map[string]error{
	"sender":    errs.ErrNoSession,
	"recipient": errs.ErrNoCounterpart,
	"content":   errs.ErrEmptyContent,
}

// Validate fails when any field of d is empty.
func Validate(d Draft) error {
	if err := validate.Struct(d); err != nil {
		return errs.FromValidator(err, causes)
	}
	return nil
}

// Composer holds the composed input and submits it.
type Composer struct {
	sender  Sender
	refresh RefreshFunc
	log     *slog.Logger

	mu    sync.Mutex
	draft string
}

// New creates a Composer. refresh is called after every valid submission.
// Pass nil logger for default.
func New(sender Sender, refresh RefreshFunc, log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	return &Composer{
		sender:  sender,
		refresh: refresh,
		log:     log.With("component", "composer"),
	}
}

// SetDraft replaces the composed input.
func (c *Composer) SetDraft(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = content
}

// Draft returns the composed input. It is not cleared by Submit.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Submit validates d, sends it and then refreshes the local history. An
// invalid draft is neither sent nor followed by a refresh. The refresh runs
// even when the send fails, since there is no delivery acknowledgement to
// wait for in either case.
func (c *Composer) Submit(ctx context.Context, d Draft) error {
	if err := Validate(d); err != nil {
		c.log.Warn("Rejected message", "error", err)
		return err
	}

	err := c.sender.Send(ctx, d.Outbound())
	if err != nil {
		c.log.Warn("Failed to send message", "recipient", d.Recipient, "error", err)
	} else {
		c.log.Debug("Message sent", "recipient", d.Recipient)
	}

	if c.refresh != nil {
		c.refresh(ctx)
	}
	return err
}
