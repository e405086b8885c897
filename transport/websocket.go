package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/chatstream/errors"
)

// WSConfig holds configuration for the websocket dialer.
type WSConfig struct {
	// URL of the IRC-over-websocket gateway.
	URL string `json:"url"`
	// Nick to authenticate as. Anonymous justinfan nicks work without a
	// token for read-only sessions.
	Nick string `json:"nick"`
	// Token is the OAuth token, without the "oauth:" prefix. Optional.
	Token string `json:"token"`
	// HandshakeTimeout bounds the dial and login exchange.
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	// LineBuffer is the capacity of the inbound line channel.
	LineBuffer int `json:"line_buffer"`
}

// Validate checks the configuration for errors.
func (c *WSConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "WSConfig", "Validate", "url is required")
	}
	if c.Nick == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "WSConfig", "Validate", "nick is required")
	}
	return nil
}

// DefaultWSConfig returns defaults for the websocket dialer.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		URL:              "wss://irc-ws.chat.twitch.tv:443",
		Nick:             "justinfan12345",
		HandshakeTimeout: 10 * time.Second,
		LineBuffer:       1024,
	}
}

// WSDialer dials handshaken websocket connections.
type WSDialer struct {
	config WSConfig
	logger *slog.Logger
}

// NewWSDialer creates a dialer from config.
func NewWSDialer(config WSConfig, logger *slog.Logger) (*WSDialer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultWSConfig().HandshakeTimeout
	}
	if config.LineBuffer <= 0 {
		config.LineBuffer = DefaultWSConfig().LineBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{config: config, logger: logger.With("component", "ws_dialer")}, nil
}

// Dial connects, requests capabilities, and logs in. The returned Conn is
// delivering lines when Dial returns.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.config.HandshakeTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, d.config.URL, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "WSDialer", "Dial", "dial "+d.config.URL)
	}

	c := &wsConn{
		ws:    ws,
		lines: make(chan string, d.config.LineBuffer),
		done:  make(chan struct{}),
	}

	// Tags carry the event metadata; commands carry CLEARCHAT and friends.
	handshake := []string{
		"CAP REQ :twitch.tv/membership twitch.tv/tags twitch.tv/commands",
	}
	if d.config.Token != "" {
		handshake = append(handshake, "PASS oauth:"+d.config.Token)
	}
	handshake = append(handshake, "NICK "+d.config.Nick)

	for _, line := range handshake {
		if err := c.Send(dialCtx, line); err != nil {
			_ = ws.Close()
			return nil, errors.WrapTransient(err, "WSDialer", "Dial", "login handshake")
		}
	}

	d.logger.Debug("connection established", "url", d.config.URL, "nick", d.config.Nick)
	go c.readLoop()
	return c, nil
}

// wsConn adapts a websocket connection to the Conn interface.
type wsConn struct {
	ws    *websocket.Conn
	lines chan string
	done  chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (c *wsConn) Lines() <-chan string { return c.lines }

// readLoop splits frames into lines. One websocket frame may carry several
// protocol lines.
func (c *wsConn) readLoop() {
	defer close(c.lines)
	for {
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(errors.WrapTransient(
				fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
				"wsConn", "readLoop", "read frame"))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		for _, line := range strings.Split(string(payload), "\r\n") {
			if line == "" {
				continue
			}
			// Never block forever on a consumer that already stopped.
			select {
			case c.lines <- line:
			case <-c.done:
				return
			}
		}
	}
}

func (c *wsConn) Send(ctx context.Context, line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrTransportFault, err),
			"wsConn", "Send", "write frame")
	}
	return nil
}

func (c *wsConn) Close(context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	if err != nil {
		return errors.WrapTransient(err, "wsConn", "Close", "close connection")
	}
	return nil
}

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}
