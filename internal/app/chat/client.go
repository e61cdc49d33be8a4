package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"edchat/internal/app/message"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// clients only send control frames; anything bigger is a protocol error.
	maxMessageSize = 1024

	sendBuffer = 256
)

// Client is one user's realtime connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string

	// send queues frames for WritePump. Only the Hub closes it.
	send      chan []byte
	closeOnce sync.Once

	// set before send is closed; read by WritePump after it observes the close.
	closeCode int
	closeText string

	logger zerolog.Logger
}

// NewClient wraps an upgraded connection for userID.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		userID:    userID,
		send:      make(chan []byte, sendBuffer),
		closeCode: websocket.CloseNormalClosure,
		logger:    logx.Logger().With().Str("component", "ws").Str("client_id", userID).Logger(),
	}
}

// UserID returns the id the connection was opened for.
func (c *Client) UserID() string {
	return c.userID
}

// ReadPump keeps the read deadline moving with pongs and unregisters the
// client once the connection fails. Inbound data frames are ignored: the
// channel is push-only and sends go through the REST API.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close after read loop")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Unexpected close while reading")
			}
			return
		}
	}
}

// WritePump drains the send queue onto the connection and pings on a timer.
// It writes a close frame and returns when the Hub closes the queue.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close after write loop")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				closeMsg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
				if err := c.conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
					c.logger.Debug().Err(err).Msg("Error writing close message")
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error().Err(err).Msg("Error writing message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}

// enqueue offers frame without blocking. False means the queue is full.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// kick queues an error frame and sets the close code used once the Hub
// closes the queue.
func (c *Client) kick(code int, reason *errs.CustomError) {
	frame, err := message.Encode(message.EventError, message.ErrorPayload{
		Code:    reason.Code,
		Message: reason.Message,
	})
	if err == nil {
		c.enqueue(frame)
	}

	c.closeCode = code
	c.closeText = reason.Message

	c.logger.Warn().
		Int("close_code", code).
		Str("reason", reason.Message).
		Msg("Kicking connection.")
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}
