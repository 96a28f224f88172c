package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/samber/lo"

	"github.com/omochice/pairchat/internal/chat"
	"github.com/omochice/pairchat/pkg/protocol"
)

var errQuit = errors.New("quit")

var (
	ownColor    = color.New(color.FgCyan, color.Bold)
	peerColor   = color.New(color.FgGreen)
	noticeColor = color.New(color.FgYellow)
)

const helpText = `Commands:
  /chats          list conversations
  /open <user>    open the conversation with user
  /history        refetch the open conversation
  /quit           exit
Anything else is sent to the open conversation.`

// command is a parsed input line. name is empty for plain text.
type command struct {
	name string
	arg  string
}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{arg: line}
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

// repl drives a chat.Client from terminal input.
type repl struct {
	client *chat.Client

	mu    sync.Mutex
	out   io.Writer
	open  string
	shown int
}

func newREPL(client *chat.Client, out io.Writer) *repl {
	return &repl{client: client, out: out}
}

// login establishes the session with username, prompting on lines until a
// non-empty one is read when username is empty.
func (r *repl) login(ctx context.Context, username string, lines <-chan string) error {
	for {
		if username != "" {
			if err := r.client.Login(ctx, username); err == nil {
				break
			}
		}
		r.printf(noticeColor, "Username: ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			username = strings.TrimSpace(line)
		}
	}

	view := r.client.View()
	r.println(noticeColor, fmt.Sprintf("Logged in as %s", view.Username))
	r.listChats(view)
	r.println(noticeColor, "Type /help for commands.")
	return nil
}

// readLoop executes input lines until /quit, EOF or ctx is done.
func (r *repl) readLoop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := r.execute(ctx, parseCommand(line)); err != nil {
				return err
			}
		}
	}
}

func (r *repl) execute(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "":
		if cmd.arg == "" {
			return nil
		}
		// Failures are logged by the client and never shown.
		r.client.SetDraft(cmd.arg)
		_ = r.client.Submit(ctx)
	case "chats":
		r.listChats(r.client.View())
	case "open":
		_ = r.client.Select(ctx, cmd.arg)
	case "history":
		_ = r.client.Refresh(ctx)
		r.mu.Lock()
		r.shown = 0
		r.mu.Unlock()
		r.showHistory(r.client.View())
	case "help":
		r.println(noticeColor, helpText)
	case "quit", "exit":
		return errQuit
	default:
		r.println(noticeColor, fmt.Sprintf("Unknown command /%s, try /help", cmd.name))
	}
	return nil
}

// render prints state changes until changes is closed or ctx is done.
func (r *repl) render(ctx context.Context, changes <-chan chat.Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			r.renderChange(change)
		}
	}
}

func (r *repl) renderChange(change chat.Change) {
	view := r.client.View()
	switch change.Kind {
	case chat.ChangeSelection:
		r.mu.Lock()
		r.open = change.Counterpart
		r.shown = 0
		r.mu.Unlock()
		r.println(noticeColor, fmt.Sprintf("--- %s ---", change.Counterpart))
	case chat.ChangeHistory:
		r.showHistory(view)
	case chat.ChangeDirectory:
		if n := view.Unread[change.Counterpart]; change.Counterpart != "" && n > 0 {
			r.println(noticeColor, fmt.Sprintf("* %s sent you a message (%d unread)", change.Counterpart, n))
		}
	case chat.ChangeConnection:
		// Drops are retried silently; only report the link being up.
		if view.Connected {
			r.println(noticeColor, "* connected")
		}
	}
}

// showHistory prints the messages of the open conversation not printed yet.
// A shorter history than already shown is printed again from the start.
func (r *repl) showHistory(view chat.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if view.Counterpart != r.open {
		r.open = view.Counterpart
		r.shown = 0
	}
	if len(view.Messages) < r.shown {
		r.shown = 0
	}
	for _, msg := range view.Messages[r.shown:] {
		r.writeMessage(view.Username, msg)
	}
	r.shown = len(view.Messages)
}

func (r *repl) writeMessage(self string, msg protocol.Message) {
	sender := msg.Sender
	if sender == "" {
		sender = "?"
	}
	c := peerColor
	if msg.Sender == self {
		c = ownColor
	}
	_, _ = c.Fprintf(r.out, "[%s]", sender)
	_, _ = fmt.Fprintf(r.out, " %s\n", msg.Content)
}

// listChats prints the directory followed by unread counterparts that are
// not listed in it yet.
func (r *repl) listChats(view chat.View) {
	usernames := lo.Map(view.Contacts, func(c protocol.Contact, _ int) string {
		return c.Username
	})
	usernames = lo.Uniq(append(usernames, lo.Keys(view.Unread)...))
	if len(usernames) == 0 {
		r.println(noticeColor, "No conversations yet. Use /open <user> to start one.")
		return
	}
	sort.Strings(usernames)
	names := lo.Map(usernames, func(username string, _ int) string {
		if n := view.Unread[username]; n > 0 {
			return fmt.Sprintf("%s (%d)", username, n)
		}
		return username
	})
	r.println(noticeColor, "Conversations: "+strings.Join(names, ", "))
}

func (r *repl) println(c *color.Color, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = c.Fprintln(r.out, s)
}

func (r *repl) printf(c *color.Color, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = c.Fprintf(r.out, format, args...)
}
