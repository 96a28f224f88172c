package live_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/pairchat/internal/errs"
	"github.com/omochice/pairchat/internal/live"
	"github.com/omochice/pairchat/internal/transport"
	"github.com/omochice/pairchat/internal/transport/ws"
	"github.com/omochice/pairchat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peer is a test server endpoint that records connections.
type peer struct {
	mu       sync.Mutex
	users    []string
	conns    chan *ws.Conn
	received chan []byte
}

func newPeer(t *testing.T) (*peer, string) {
	t.Helper()
	p := &peer{
		conns:    make(chan *ws.Conn, 8),
		received: make(chan []byte, 8),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.users = append(p.users, r.URL.Query().Get("username"))
		p.mu.Unlock()
		p.conns <- conn

		for {
			data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			p.received <- data
		}
	}))
	t.Cleanup(server.Close)
	return p, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func (p *peer) usernames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.users...)
}

func (p *peer) accept(t *testing.T) *ws.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection")
		return nil
	}
}

func startChannel(t *testing.T, ch *live.Channel, username string) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ch.Run(ctx, username)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		username string
		want     string
	}{
		{name: "plain", base: "ws://localhost:12345/ws", username: "alice", want: "ws://localhost:12345/ws?username=alice"},
		{name: "escaped", base: "ws://localhost:12345/ws", username: "a&b c", want: "ws://localhost:12345/ws?username=a%26b+c"},
		{name: "keeps query", base: "ws://host/ws?v=1", username: "bob", want: "ws://host/ws?username=bob&v=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := live.Endpoint(tt.base, tt.username)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChannel_ForwardsNotifications(t *testing.T) {
	p, url := newPeer(t)
	ch := live.New(live.Config{URL: url}, nil)
	startChannel(t, ch, "alice")

	server := p.accept(t)
	require.Eventually(t, ch.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice"}, p.usernames())

	require.NoError(t, server.Write(context.Background(), []byte(`{"sender":"bob","recipient":"alice","content":"hi"}`)))
	require.NoError(t, server.Write(context.Background(), []byte(`ping`)))

	select {
	case n := <-ch.Notifications():
		assert.Equal(t, "bob", n.Sender)
		assert.Equal(t, "alice", n.Recipient)
		assert.Equal(t, "hi", n.Content)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}

	select {
	case n := <-ch.Notifications():
		assert.Equal(t, []byte("ping"), n.Raw)
		assert.Empty(t, n.Sender)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for opaque notification")
	}
}

func TestChannel_Send(t *testing.T) {
	p, url := newPeer(t)
	ch := live.New(live.Config{URL: url}, nil)
	startChannel(t, ch, "alice")

	p.accept(t)
	require.Eventually(t, ch.IsConnected, time.Second, 5*time.Millisecond)

	err := ch.Send(context.Background(), protocol.Outbound{Recipient: "bob", Sender: "alice", Content: "hi"})
	require.NoError(t, err)

	select {
	case data := <-p.received:
		assert.JSONEq(t, `{"recipient":"bob","sender":"alice","content":"hi"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for outbound payload")
	}
}

func TestChannel_SendNotConnected(t *testing.T) {
	ch := live.New(live.Config{URL: "ws://127.0.0.1:1/ws"}, nil)

	err := ch.Send(context.Background(), protocol.Outbound{Recipient: "bob", Sender: "alice", Content: "hi"})
	assert.ErrorIs(t, err, errs.ErrNotConnected)
}

func TestChannel_Reconnects(t *testing.T) {
	p, url := newPeer(t)
	ch := live.New(live.Config{URL: url, RetryInterval: 10 * time.Millisecond}, nil)
	startChannel(t, ch, "alice")

	first := p.accept(t)
	require.NoError(t, first.Close())

	p.accept(t)
	require.Eventually(t, func() bool { return ch.Connections() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, ch.IsConnected())
	assert.Equal(t, []string{"alice", "alice"}, p.usernames())

	var transitions []bool
	for len(transitions) < 3 {
		select {
		case connected := <-ch.States():
			transitions = append(transitions, connected)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for state transitions, got %v", transitions)
		}
	}
	assert.Equal(t, []bool{true, false, true}, transitions)
}

func TestChannel_RetriesUntilServerAppears(t *testing.T) {
	var attempts atomic.Int32
	dial := func(ctx context.Context, url string) (transport.Conn, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return newFakeConn(), nil
	}
	ch := live.New(live.Config{URL: "ws://example.invalid/ws", RetryInterval: time.Millisecond}, nil, live.WithDialer(dial))
	startChannel(t, ch, "alice")

	require.Eventually(t, ch.IsConnected, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, ch.Connections())
}

func TestChannel_Run_Rejects(t *testing.T) {
	ch := live.New(live.Config{URL: "ws://example.invalid/ws"}, nil,
		live.WithDialer(func(ctx context.Context, url string) (transport.Conn, error) {
			return newFakeConn(), nil
		}))

	err := ch.Run(context.Background(), "")
	assert.True(t, errs.IsValidation(err))

	startChannel(t, ch, "alice")
	require.Eventually(t, ch.IsConnected, time.Second, time.Millisecond)

	err = ch.Run(context.Background(), "alice")
	assert.ErrorIs(t, err, errs.ErrChannelRunning)
}

func TestChannel_Run_StopsOnCancel(t *testing.T) {
	ch := live.New(live.Config{URL: "ws://example.invalid/ws"}, nil,
		live.WithDialer(func(ctx context.Context, url string) (transport.Conn, error) {
			return newFakeConn(), nil
		}))
	cancel, done := startChannel(t, ch, "alice")
	require.Eventually(t, ch.IsConnected, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, ch.IsConnected())
}

func TestChannel_DropsWhenBufferFull(t *testing.T) {
	conn := newFakeConn()
	ch := live.New(live.Config{URL: "ws://example.invalid/ws", Buffer: 1}, nil,
		live.WithDialer(func(ctx context.Context, url string) (transport.Conn, error) {
			return conn, nil
		}))
	startChannel(t, ch, "alice")

	conn.frames <- []byte(`{"content":"one"}`)
	conn.frames <- []byte(`{"content":"two"}`)
	conn.frames <- []byte(`{"content":"three"}`)

	require.Eventually(t, func() bool { return len(conn.frames) == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	n := <-ch.Notifications()
	assert.Equal(t, "one", n.Content)
	select {
	case extra := <-ch.Notifications():
		t.Fatalf("unexpected notification %q", extra.Content)
	default:
	}
}

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.frames:
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error { return nil }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake" }
