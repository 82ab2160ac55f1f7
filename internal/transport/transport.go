// Package transport defines the bidirectional message channel the session runs
// over. The ws subpackage provides the websocket implementation; tests supply
// in-memory fakes.
package transport

import "context"

// Conn is one established bidirectional message channel. ReadMessage blocks
// until a frame arrives or the connection fails; it is called from a single
// goroutine. WriteMessage and Close are safe for concurrent use.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a connection to a relay URL.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}
