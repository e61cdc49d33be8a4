/*
Package message holds the records exchanged between the chat server and its
clients: the Message itself and the envelope used on the realtime channel.
*/
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxTextBytes is the longest accepted message text.
const MaxTextBytes = 5000

// Message is a stored direct message. Clients never edit or delete it.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Kind classifies the content for metrics: "text", "image" or "mixed".
func (m Message) Kind() string {
	switch {
	case m.Text != "" && m.Image != "":
		return "mixed"
	case m.Image != "":
		return "image"
	default:
		return "text"
	}
}

// Validate checks a Message received from the network.
func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("message: missing id")
	}
	if strings.TrimSpace(m.SenderID) == "" {
		return errors.New("message: missing sender id")
	}
	if m.Text == "" && m.Image == "" {
		return errors.New("message: neither text nor image")
	}
	if m.CreatedAt.IsZero() {
		return errors.New("message: missing timestamp")
	}
	return nil
}

// Realtime event types.
const (
	// EventOnlineUsers carries the full array of online user ids.
	EventOnlineUsers = "getOnlineUsers"

	// EventNewMessage carries one Message addressed to the receiving connection.
	EventNewMessage = "newMessage"

	// EventError carries an ErrorPayload before the server closes the connection.
	EventError = "error"
)

// Envelope is the frame format on the realtime channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an EventError frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Encode marshals payload into an envelope of the given type.
func Encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}
