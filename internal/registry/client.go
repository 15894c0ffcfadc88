package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClientClosed is returned by Send after a client has shut down.
var ErrClientClosed = errors.New("client closed")

// ClientConfig holds tunables for websocket clients.
type ClientConfig struct {
	// PingInterval is how often to send ping messages to clients.
	PingInterval time.Duration
	// WriteTimeout is the timeout for writing to a client.
	WriteTimeout time.Duration
	// ReadTimeout is the timeout for reading from a client.
	ReadTimeout time.Duration
	// MaxMessageSize is the maximum size of a message from a client.
	MaxMessageSize int64
	// SendBufferSize is the size of the send buffer per client.
	SendBufferSize int
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 512,
		SendBufferSize: 64,
	}
}

// Client is a websocket-backed Subscriber. Events are queued on a buffered
// channel drained by the write pump; Send fails when the buffer is full
// rather than blocking the broadcast path.
type Client struct {
	id       uuid.UUID
	tenantID uuid.UUID
	conn     *websocket.Conn
	config   ClientConfig
	registry *Registry
	logger   zerolog.Logger

	send      chan Event
	closeOnce sync.Once
	done      chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeClient upgrades the HTTP request to a websocket connection, registers
// the resulting client under tenantID and starts its pumps.
func ServeClient(r *Registry, cfg ClientConfig, w http.ResponseWriter, req *http.Request, tenantID uuid.UUID, logger zerolog.Logger) error {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return err
	}

	client := &Client{
		id:       uuid.New(),
		tenantID: tenantID,
		conn:     conn,
		config:   cfg,
		registry: r,
		logger:   logger.With().Str("component", "ws_client").Logger(),
		send:     make(chan Event, cfg.SendBufferSize),
		done:     make(chan struct{}),
	}

	r.Connect(client, tenantID)

	go client.writePump()
	go client.readPump()
	return nil
}

// ID returns the client's identifier.
func (c *Client) ID() uuid.UUID { return c.id }

// TenantID returns the tenant the client connected under.
func (c *Client) TenantID() uuid.UUID { return c.tenantID }

// Send queues an event for the write pump. It fails immediately when the
// client is closed or its buffer is full.
func (c *Client) Send(event Event) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- event:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close shuts down the client and its underlying connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

// readPump reads control messages from the client. The only message accepted
// is {type:"subscribe", device_id}.
func (c *Client) readPump() {
	defer func() {
		c.registry.Disconnect(c)
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var req struct {
			Type     string    `json:"type"`
			DeviceID uuid.UUID `json:"device_id"`
		}
		if err := json.Unmarshal(message, &req); err != nil || req.Type != "subscribe" {
			continue
		}
		c.registry.Subscribe(c, req.DeviceID)
	}
}

// writePump drains the send channel onto the connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
