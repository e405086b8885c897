// Package transport carries raw protocol lines over websocket connections.
//
// The coordinator speaks to the chat network only through the Conn and
// Dialer interfaces here, so its state machine can be driven in tests by an
// in-memory fake. The production implementation dials the IRC-over-websocket
// gateway with gorilla/websocket and performs the capability and
// authentication handshake before handing the connection over.
package transport

import "context"

// Conn is one logical connection delivering and accepting raw lines.
//
// Lines is closed when the connection dies; Err then reports why. Send is
// safe for concurrent use.
type Conn interface {
	Lines() <-chan string
	Send(ctx context.Context, line string) error
	Close(ctx context.Context) error
	Err() error
}

// Dialer opens new connections. Each call produces an independent,
// fully-handshaken Conn.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
