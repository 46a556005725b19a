package eventpool

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mpm/pkg/logger"
)

const (
	connectTimeout   = 2 * time.Second
	maxReconnects    = 3
	reconnectBase    = 500 * time.Millisecond
	reconnectCeiling = 2 * time.Second
)

// emitter is the transport a pooled connection must provide.
type emitter interface {
	Emit(namespace, event string, payload map[string]any) error
	Close() error
}

// wireEvent is the frame sent to the event server.
type wireEvent struct {
	Namespace string         `json:"namespace"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
}

// wsClient is one auto-reconnecting websocket connection to the event
// server.
type wsClient struct {
	endpoint string

	mu   sync.Mutex
	conn *websocket.Conn
}

// dialEventServer connects a new client, gated by the connect timeout.
func dialEventServer(port int, authToken string) (emitter, error) {
	u := url.URL{
		Scheme:   "ws",
		Host:     fmt.Sprintf("127.0.0.1:%d", port),
		Path:     "/socket.io/",
		RawQuery: url.Values{"token": {authToken}}.Encode(),
	}

	c := &wsClient{endpoint: u.String()}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *wsClient) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.Dial(c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("event server dial failed: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Emit sends one event frame, reconnecting on write failure with capped
// backoff.
func (c *wsClient) Emit(namespace, event string, payload map[string]any) error {
	frame, err := json.Marshal(wireEvent{Namespace: namespace, Event: event, Data: payload})
	if err != nil {
		return err
	}

	if err := c.write(frame); err == nil {
		return nil
	}

	delay := reconnectBase
	for attempt := 1; attempt <= maxReconnects; attempt++ {
		time.Sleep(delay)
		if delay *= 2; delay > reconnectCeiling {
			delay = reconnectCeiling
		}

		if err := c.connect(); err != nil {
			logger.Get().Debug().Err(err).Int("attempt", attempt).Msg("event client reconnect failed")
			continue
		}
		if err := c.write(frame); err == nil {
			return nil
		}
	}
	return fmt.Errorf("event emit failed after %d reconnect attempts", maxReconnects)
}

func (c *wsClient) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(connectTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil
	return err
}
