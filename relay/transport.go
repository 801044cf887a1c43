// Package relay moves signing request frames between the coordinator and
// remote signers over a relay websocket.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

// Transport is the wire the signing layer talks through. Implementations
// must be safe for concurrent Send calls.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, req *Request) error
	SendResponse(ctx context.Context, resp *Response) error
	OnResponse(handler func(*Response))
	OnRequest(handler func(*Request))
	IsConnected() bool
	Close() error
}

// Client is a websocket Transport against one relay URL.
type Client struct {
	relayURL string
	logger   *logrus.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	handler    func(*Response)
	reqHandler func(*Request)
	connected  bool
	done       chan struct{}
}

var _ Transport = (*Client)(nil)

// NewClient builds a disconnected client for relayURL.
func NewClient(relayURL string) *Client {
	return &Client{
		relayURL: relayURL,
		logger:   logrus.WithField("service", "relay-client").Logger,
	}
}

// Connect dials the relay and starts the read and keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.relayURL, nil)
	if err != nil {
		return fmt.Errorf("fail to dial relay %s: %w", c.relayURL, err)
	}
	if resp != nil && resp.Body != nil {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("Failed to close handshake body,err:", err)
		}
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	if err := conn.SetReadDeadline(time.Now().Add(pongTimeout)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("fail to set read deadline: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)
	go c.pingLoop(conn, c.done)

	c.logger.WithField("relay", c.relayURL).Info("connected to relay")
	return nil
}

// Send writes one request frame.
func (c *Client) Send(ctx context.Context, req *Request) error {
	buf, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("fail to marshal request: %w", err)
	}
	return c.write(ctx, buf)
}

// SendResponse writes one response frame.
func (c *Client) SendResponse(ctx context.Context, resp *Response) error {
	buf, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("fail to marshal response: %w", err)
	}
	return c.write(ctx, buf)
}

func (c *Client) write(ctx context.Context, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("fail to send frame: not connected")
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("fail to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("fail to send frame: %w", err)
	}
	return nil
}

// OnResponse installs the handler for inbound response frames. The
// handler runs on the read loop goroutine.
func (c *Client) OnResponse(handler func(*Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// OnRequest installs the handler for inbound request frames, used when
// this process answers signing requests from clients.
func (c *Client) OnRequest(handler func(*Request)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqHandler = handler
}

// IsConnected reports whether the websocket is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	close(c.done)

	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.logger.WithError(err).Debug("close frame not delivered")
	}
	return c.conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				c.logger.WithError(err).Warn("relay read failed")
				c.mu.Lock()
				_ = c.closeLocked()
				c.mu.Unlock()
			}
			return
		}

		var frame envelope
		if err := json.Unmarshal(buf, &frame); err != nil {
			c.logger.WithError(err).Warn("dropping malformed relay frame")
			continue
		}

		c.mu.Lock()
		respHandler := c.handler
		reqHandler := c.reqHandler
		c.mu.Unlock()

		if frame.isRequest() {
			if reqHandler != nil {
				reqHandler(&Request{ID: frame.ID, From: frame.From, Method: frame.Method, Params: frame.Params})
			}
			continue
		}
		if respHandler != nil {
			respHandler(&Response{ID: frame.ID, Method: frame.Method, Result: frame.Result, Error: frame.Error})
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.WithError(err).Debug("relay ping failed")
				return
			}
		}
	}
}
