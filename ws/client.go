// Package ws connects a charge point to its central system over a websocket
// and exposes the connection as a message-framed transport.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// Subprotocol16 is the websocket subprotocol negotiated for OCPP-J 1.6.
const Subprotocol16 = "ocpp1.6"

// ErrSubprotocolRejected is returned when the server does not agree on any of
// the requested subprotocols.
const ErrSubprotocolRejected = errors.ConstError("subprotocol not accepted by server")

// DialConfig describes how to reach the central system.
type DialConfig struct {
	// URL is the central system endpoint; the charge point id is appended as
	// the last path segment.
	URL           string
	ChargePointID string
	Subprotocols  []string

	HandshakeTimeout time.Duration
	Header           http.Header
}

// Conn is a websocket connection carrying one text frame per message.
type Conn struct {
	conn *websocket.Conn

	// mu serializes writes, which gorilla/websocket does not allow to be
	// concurrent.
	mu sync.Mutex
}

// Dial opens the websocket and checks the negotiated subprotocol.
func Dial(ctx context.Context, config DialConfig) (*Conn, error) {
	target, err := endpoint(config.URL, config.ChargePointID)
	if err != nil {
		return nil, err
	}
	subprotocols := config.Subprotocols
	if len(subprotocols) == 0 {
		subprotocols = []string{Subprotocol16}
	}

	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = subprotocols
	if config.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = config.HandshakeTimeout
	}

	conn, resp, err := dialer.DialContext(ctx, target, config.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", target, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	if !contains(subprotocols, conn.Subprotocol()) {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: requested %v, got %q", ErrSubprotocolRejected, subprotocols, conn.Subprotocol())
	}
	return &Conn{conn: conn}, nil
}

// NewConn wraps an established websocket connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Subprotocol returns the negotiated subprotocol.
func (c *Conn) Subprotocol() string {
	return c.conn.Subprotocol()
}

// ReadMessage returns the next text or binary frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage sends data as one text frame.
func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the underlying connection, which
// unblocks a pending ReadMessage or WriteMessage. It does not take the write
// lock: WriteControl and Close may run concurrently with a write.
func (c *Conn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func endpoint(rawURL, chargePointID string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid central system url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid central system url %q: scheme must be ws or wss", rawURL)
	}
	if chargePointID != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + chargePointID
	}
	return u.String(), nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
