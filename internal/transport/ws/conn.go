// Package ws provides the WebSocket transport built on gobwas/ws.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// DefaultReadLimit bounds a single inbound message.
const DefaultReadLimit = 1 << 20

// ErrMessageTooLarge is returned by Read when a message exceeds the read limit.
var ErrMessageTooLarge = errors.New("websocket message too large")

// Conn adapts a gobwas/ws connection to transport.Conn. Messages are sent
// as text frames since every payload is JSON.
type Conn struct {
	conn   net.Conn
	state  ws.State
	reader *wsutil.Reader
	limit  int64

	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a client-side connection to url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return newConn(conn, br, ws.StateClientSide), nil
}

// Accept upgrades an HTTP request to a server-side connection.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	var br *bufio.Reader
	if rw != nil {
		br = rw.Reader
	}
	return newConn(conn, br, ws.StateServerSide), nil
}

func newConn(conn net.Conn, br *bufio.Reader, state ws.State) *Conn {
	c := &Conn{conn: conn, state: state, limit: DefaultReadLimit}

	var src io.Reader = conn
	if br != nil {
		src = br
	}
	c.reader = &wsutil.Reader{
		Source:         src,
		State:          state,
		CheckUTF8:      true,
		MaxFrameSize:   DefaultReadLimit,
		OnIntermediate: c.handleControl,
	}
	return c
}

// SetReadLimit sets the maximum size in bytes of an inbound message.
func (c *Conn) SetReadLimit(n int64) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.limit = n
	c.reader.MaxFrameSize = n
}

// Read implements transport.Conn. Control frames are answered inline and
// never returned.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := bindDeadline(ctx, c.conn.SetReadDeadline)
	defer stop()

	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, c.mapErr(ctx, err)
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.reader); err != nil {
				return nil, c.mapErr(ctx, err)
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := c.reader.Discard(); err != nil {
				return nil, c.mapErr(ctx, err)
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(c.reader, c.limit+1))
		if err != nil {
			return nil, c.mapErr(ctx, err)
		}
		if int64(len(data)) > c.limit {
			return nil, ErrMessageTooLarge
		}
		return data, nil
	}
}

// Write implements transport.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.writeFrame(ctx, ws.NewFrame(ws.OpText, true, data))
}

// Close implements transport.Conn. A close frame is sent before the socket
// is closed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.writeFrame(ctx, ws.NewCloseFrame(body))
		cancel()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// writeFrame compiles the whole frame first so that a frame is always
// written with a single call under the write lock.
func (c *Conn) writeFrame(ctx context.Context, frame ws.Frame) error {
	if c.state.ClientSide() {
		frame = ws.MaskFrame(frame)
	}
	bts, err := ws.CompileFrame(frame)
	if err != nil {
		return fmt.Errorf("failed to compile frame: %w", err)
	}
	return c.writeRaw(ctx, bts)
}

func (c *Conn) writeRaw(ctx context.Context, bts []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := bindDeadline(ctx, c.conn.SetWriteDeadline)
	defer stop()

	if _, err := c.conn.Write(bts); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// handleControl answers ping and close frames. The reply is buffered so it
// goes out through writeRaw like any other frame.
func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	var buf bytes.Buffer
	err := wsutil.ControlFrameHandler(&buf, c.state)(hdr, r)
	if buf.Len() > 0 {
		if werr := c.writeRaw(context.Background(), buf.Bytes()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func (c *Conn) mapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, wsutil.ErrFrameTooLarge) {
		return ErrMessageTooLarge
	}
	var closed wsutil.ClosedError
	if errors.As(err, &closed) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return err
}

// bindDeadline makes a blocking socket call honour ctx. The returned func
// clears the deadline again.
func bindDeadline(ctx context.Context, set func(time.Time) error) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = set(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = set(time.Time{})
	}
}
