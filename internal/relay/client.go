package relay

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mossy-p/call-relay/internal/metrics"
	"github.com/mossy-p/call-relay/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is one live WebSocket connection registered under an identity.
type Client struct {
	// ID distinguishes connections that share an identity.
	ID string

	// Identity is the callerId supplied at handshake time.
	Identity string

	Conn *websocket.Conn

	// Send carries frames from the hub to the write pump. The hub closes it
	// when the client is released.
	Send chan *models.OutboundFrame

	hub   *Hub
	codec Codec
}

// NewClient creates an unattached client for identity.
func NewClient(hub *Hub, identity string) *Client {
	size := defaultSendBufferSize
	if hub != nil && hub.opts.SendBufferSize > 0 {
		size = hub.opts.SendBufferSize
	}
	return &Client{
		ID:       uuid.New().String(),
		Identity: identity,
		Send:     make(chan *models.OutboundFrame, size),
		hub:      hub,
		codec:    jsonCodec{},
	}
}

// Attach binds the upgraded connection and picks the codec from the
// negotiated subprotocol.
func (c *Client) Attach(conn *websocket.Conn) {
	c.Conn = conn
	c.codec = CodecFor(conn.Subprotocol())
}

// Start runs the read and write pumps. The client unregisters itself from
// the hub when the read pump exits.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) logger() *slog.Logger {
	return c.hub.logger.With("identity", c.Identity, "conn_id", c.ID)
}

// readPump turns inbound frames into hub requests, one at a time and in
// arrival order.
func (c *Client) readPump() {
	log := c.logger()
	defer func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	}()

	if c.hub.opts.MaxMessageBytes > 0 {
		c.Conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	}
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var limiter *rate.Limiter
	if n := c.hub.opts.MaxMessagesPerSecond; n > 0 {
		limiter = rate.NewLimiter(rate.Limit(n), n)
	}

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "err", err)
			}
			return
		}

		if limiter != nil && !limiter.Allow() {
			c.hub.metrics.Inc(metrics.DropRateLimited)
			log.Warn("signaling rate limit exceeded, closing connection")
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		var frame models.InboundFrame
		if err := c.codec.Unmarshal(data, &frame); err != nil {
			c.hub.metrics.Inc(metrics.FramesInvalid)
			log.Warn("failed to parse frame", "codec", c.codec.Name(), "err", err)
			continue
		}

		req := &Request{Event: frame.Event, From: c, Data: frame.Data}
		if err := c.hub.Dispatch(req); errors.Is(err, ErrHubStopped) {
			return
		}
	}
}

// writePump is the only writer of data frames on the connection.
func (c *Client) writePump() {
	log := c.logger()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub released this client.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.Marshal(frame)
			if err != nil {
				log.Error("failed to encode frame", "event", frame.Event, "err", err)
				continue
			}
			if err := c.Conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				log.Warn("failed to write frame", "err", err)
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

func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
