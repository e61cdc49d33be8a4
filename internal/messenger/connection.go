package messenger

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"edchat/internal/app/message"
	"edchat/internal/pkg/logx"
)

const (
	// time allowed to write a control frame.
	writeWait = 10 * time.Second

	// the server pings well inside this window; silence past it means the link is dead.
	readWait = 90 * time.Second

	maxFrameSize = 1 << 20

	handshakeTimeout = 10 * time.Second
)

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	// Endpoint returns the websocket URL for a user id.
	Endpoint func(userID string) string

	// Presence is replaced on every presence push and cleared on disconnect.
	Presence *Presence

	// Token, if set, returns the bearer token sent with the handshake.
	Token func() string

	// Dialer defaults to a gorilla Dialer with a handshake timeout.
	Dialer *websocket.Dialer

	// OnPresence, if set, is called after each presence replacement.
	OnPresence func(online []string)

	// OnServerError, if set, is called for error frames.
	OnServerError func(ErrorEvent)
}

// Connection holds at most one realtime channel. It is not retried or
// re-dialed on failure; callers establish it again after a new login.
type Connection struct {
	cfg    ConnectionConfig
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	userID   string
	readDone chan struct{}
	dialing  bool

	// gen is bumped by Teardown so a handshake in flight knows to give up.
	gen uint64

	handlerMu sync.RWMutex
	handler   func(message.Message)
}

func NewConnection(cfg ConnectionConfig) *Connection {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		}
	}

	return &Connection{
		cfg:    cfg,
		dialer: dialer,
		logger: logx.Component("realtime"),
	}
}

// Establish opens the channel for userID. It is a no-op while a channel is
// open or being dialed. Failures are logged, not returned. The handshake runs
// without holding the lock, and a Teardown during it discards the result.
func (c *Connection) Establish(ctx context.Context, userID string) {
	if userID == "" {
		c.logger.Error().Msg("Realtime connection skipped: empty user id")
		return
	}

	c.mu.Lock()
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		c.logger.Debug().Str("user_id", userID).Msg("Realtime connection already open, skipping")
		return
	}
	c.dialing = true
	gen := c.gen
	c.mu.Unlock()

	var header http.Header
	if c.cfg.Token != nil {
		if token := c.cfg.Token(); token != "" {
			header = http.Header{"Authorization": {"Bearer " + token}}
		}
	}

	conn, res, err := c.dialer.DialContext(ctx, c.cfg.Endpoint(userID), header)

	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		ev := c.logger.Error().Err(err).Str("user_id", userID)
		if res != nil {
			ev = ev.Int("status", res.StatusCode)
		}
		ev.Msg("Realtime connection failed")
		return
	}
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Info().Str("user_id", userID).Msg("Realtime connection torn down during handshake, closing")
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	c.conn = conn
	c.userID = userID
	c.readDone = done
	c.cfg.Presence.Clear()
	c.mu.Unlock()

	c.logger.Info().Str("user_id", userID).Msg("Realtime connection established")

	go c.readLoop(conn, done)
}

// Teardown closes the channel if one is open and empties Presence. Safe to
// call at any time.
func (c *Connection) Teardown() {
	c.mu.Lock()
	conn, done := c.conn, c.readDone
	c.gen++
	c.conn = nil
	c.userID = ""
	c.readDone = nil
	c.mu.Unlock()

	if conn != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout")
		if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait)); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		if err := conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close on teardown")
		}
		<-done

		c.logger.Info().Msg("Realtime connection closed")
	}

	c.cfg.Presence.Clear()
}

// Connected reports whether a channel is open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SetMessageHandler installs h as the only receiver of message pushes.
// Nil removes the current handler.
func (c *Connection) SetMessageHandler(h func(message.Message)) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// HasMessageHandler reports whether a message handler is installed.
func (c *Connection) HasMessageHandler() bool {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler != nil
}

func (c *Connection) messageHandler() func(message.Message) {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

func (c *Connection) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer c.dropped(conn)

	conn.SetReadLimit(maxFrameSize)
	if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	conn.SetPingHandler(func(appData string) error {
		if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			return err
		}

		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.Is(err, net.ErrClosed):
				c.logger.Debug().Msg("Realtime read loop finished")
			case errors.As(err, &closeErr):
				c.logger.Info().Int("close_code", closeErr.Code).Str("reason", closeErr.Text).Msg("Realtime connection closed by server")
			default:
				c.logger.Warn().Err(err).Msg("Realtime connection read failed")
			}
			return
		}

		c.dispatch(frame)
	}
}

func (c *Connection) dispatch(frame []byte) {
	ev, err := DecodeEvent(frame)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Dropping malformed realtime frame")
		return
	}

	switch e := ev.(type) {
	case PresenceEvent:
		c.cfg.Presence.Replace(e.Online)
		if c.cfg.OnPresence != nil {
			c.cfg.OnPresence(e.Online)
		}

	case MessageEvent:
		if h := c.messageHandler(); h != nil {
			h(e.Message)
		}

	case ErrorEvent:
		c.logger.Warn().
			Int("code", e.Code).
			Str("reason", e.Message).
			Msg("Server reported an error on the realtime channel")
		if c.cfg.OnServerError != nil {
			c.cfg.OnServerError(e)
		}
	}
}

// dropped clears the connection reference if conn is still the open one, so
// a later Establish can dial again.
func (c *Connection) dropped(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.userID = ""
		c.readDone = nil
		c.cfg.Presence.Clear()
		c.logger.Warn().Msg("Realtime connection lost")
	}
	c.mu.Unlock()

	_ = conn.Close()
}
