// Package transport defines the frame-level connection shared by the live
// channel client and the reference server.
package transport

import "context"

// Conn abstracts a bidirectional, message-framed connection.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read reads a single message frame.
	// Returns io.EOF when the peer closed the connection.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single message frame. Safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
