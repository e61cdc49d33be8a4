/*
Package chat runs the realtime side of the server: one websocket per online
user, presence broadcasts and delivery of newly stored messages.

This file defines the Hub. A single goroutine (Run) owns the connection map;
everything else talks to it over channels.
*/
package chat

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"edchat/internal/app/message"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/logx"
	"edchat/internal/pkg/metrics"
)

const (
	deliverBuffer = 1024

	// WsCloseCodeSessionReplaced tells a client that a newer connection for the same user took over.
	WsCloseCodeSessionReplaced = 4001
)

type delivery struct {
	receiverID string
	frame      []byte
}

// Hub tracks the online connection of every user.
type Hub struct {
	// clients holds at most one connection per user id. Owned by Run.
	clients map[string]*Client

	// online mirrors the keys of clients for readers outside Run.
	online   map[string]struct{}
	onlineMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery

	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once

	logger zerolog.Logger
}

// NewHub returns a Hub. Call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		online:     make(map[string]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, deliverBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logx.Component("hub"),
	}
}

// Run is the Hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	h.logger.Info().Msg("Hub loop started.")

	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unregister:
			h.handleUnregister(c)

		case d := <-h.deliver:
			h.handleDeliver(d)

		case <-h.stop:
			for id, c := range h.clients {
				h.remove(id, c)
			}
			h.logger.Info().Msg("Hub loop stopped.")
			return
		}
	}
}

// Shutdown stops Run and closes every connection. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.stopped.Do(func() { close(h.stop) })
	<-h.done
}

// Register hands c to the Hub. It returns false if the Hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stop:
		return false
	}
}

// Unregister removes c if it is still the current connection of its user.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// Deliver queues a newMessage push for receiverID. Offline receivers are
// skipped; they fetch the message with the history call.
func (h *Hub) Deliver(receiverID string, m message.Message) {
	frame, err := message.Encode(message.EventNewMessage, m)
	if err != nil {
		h.logger.Error().Err(err).Str("message_id", m.ID).Msg("Failed to encode newMessage push.")
		return
	}

	select {
	case h.deliver <- delivery{receiverID: receiverID, frame: frame}:
	case <-h.stop:
	default:
		h.logger.Warn().Str("receiver_id", receiverID).Msg("Deliver queue full, dropping push.")
	}
}

// IsOnline reports whether userID currently has a connection.
func (h *Hub) IsOnline(userID string) bool {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()

	_, ok := h.online[userID]
	return ok
}

// OnlineIDs returns the sorted ids of connected users.
func (h *Hub) OnlineIDs() []string {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()

	ids := make([]string, 0, len(h.online))
	for id := range h.online {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (h *Hub) handleRegister(c *Client) {
	if existing, ok := h.clients[c.userID]; ok {
		h.logger.Warn().
			Str("client_id", c.userID).
			Msg("User already connected. Replacing old connection.")

		existing.kick(WsCloseCodeSessionReplaced, errs.NewError(errs.ErrSessionReplaced))
		h.remove(c.userID, existing)
		metrics.IncWSEvent("replace")
	}

	h.clients[c.userID] = c
	h.setOnline(c.userID, true)
	metrics.IncWSActive()
	metrics.IncWSEvent("connect")

	h.logger.Info().
		Str("client_id", c.userID).
		Int("total_users", len(h.clients)).
		Msg("Client connected.")

	h.broadcastPresence()
}

func (h *Hub) handleUnregister(c *Client) {
	current, ok := h.clients[c.userID]
	if !ok || current != c {
		h.logger.Debug().
			Str("client_id", c.userID).
			Msg("Ignoring unregister for stale connection.")
		return
	}

	h.remove(c.userID, c)
	metrics.IncWSEvent("disconnect")

	h.logger.Info().
		Str("client_id", c.userID).
		Int("total_users", len(h.clients)).
		Msg("Client disconnected.")

	h.broadcastPresence()
}

func (h *Hub) handleDeliver(d delivery) {
	c, ok := h.clients[d.receiverID]
	if !ok {
		return
	}

	if !c.enqueue(d.frame) {
		h.logger.Warn().Str("client_id", c.userID).Msg("Client send queue full, disconnecting.")
		h.remove(c.userID, c)
		h.broadcastPresence()
		return
	}

	metrics.IncWSEvent("push_message")
}

// broadcastPresence pushes the full online list to every connection. Clients
// whose queue is full are dropped, which changes the list, so it repeats
// until every remaining client accepted the frame.
func (h *Hub) broadcastPresence() {
	for {
		ids := make([]string, 0, len(h.clients))
		for id := range h.clients {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		frame, err := message.Encode(message.EventOnlineUsers, ids)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to encode presence push.")
			return
		}

		dropped := false
		for id, c := range h.clients {
			if !c.enqueue(frame) {
				h.logger.Warn().Str("client_id", id).Msg("Client send queue full during presence push, disconnecting.")
				h.remove(id, c)
				dropped = true
			}
		}

		metrics.IncWSEvent("push_presence")

		if !dropped {
			return
		}
	}
}

// remove deletes c and closes its send queue, which ends its WritePump.
func (h *Hub) remove(id string, c *Client) {
	delete(h.clients, id)
	h.setOnline(id, false)
	c.closeSend()
	metrics.DecWSActive()
}

func (h *Hub) setOnline(id string, online bool) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()

	if online {
		h.online[id] = struct{}{}
	} else {
		delete(h.online, id)
	}
}
