package chathub

import (
	"encoding/json"
	"sync"
	"time"

	"campusconnect/backend/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	UserID string
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan models.Envelope

	log *zap.Logger

	mu        sync.Mutex
	hooks     hooks
	closeOnce sync.Once
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID string, log *zap.Logger) *WebSocketClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketClient{
		UserID: userID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.Envelope, sendBuffer),
		log:    log.With(zap.String("user_id", userID)),
	}
}

func (c *WebSocketClient) GetUserID() string                      { return c.UserID }
func (c *WebSocketClient) GetSendChannel() chan<- models.Envelope { return c.Send }

func (c *WebSocketClient) OnDisconnect(fn func()) {
	c.mu.Lock()
	ok := c.hooks.add(fn)
	c.mu.Unlock()
	if !ok {
		fn()
	}
}

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which stops writePump, and runs the disconnect hooks.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() {
		close(c.Send)
		c.mu.Lock()
		fns := c.hooks.fire()
		c.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}

// readPump decodes commands until the connection fails or stops answering
// pings, then hands the client back to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var cmd models.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.log.Debug("malformed command", zap.Error(err))
			c.Hub.Deliver(c.UserID, models.Envelope{Type: models.EnvelopeError, Error: "malformed command"})
			continue
		}
		if !c.Hub.Submit(Incoming{UserID: c.UserID, Command: cmd}) {
			return
		}
	}
}

// writePump writes envelopes from Send, one JSON object per line, and keeps
// the connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			enc := json.NewEncoder(w)
			if err := enc.Encode(env); err != nil {
				c.log.Error("failed to encode envelope", zap.Error(err))
			}

			// Batch whatever is already queued into the same frame.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := enc.Encode(<-c.Send); err != nil {
					c.log.Error("failed to encode envelope", zap.Error(err))
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
