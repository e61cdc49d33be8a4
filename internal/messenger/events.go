package messenger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"edchat/internal/app/message"
)

// Event is a decoded, validated realtime frame.
type Event interface {
	eventType() string
}

// PresenceEvent is the full list of online user ids.
type PresenceEvent struct {
	Online []string
}

// MessageEvent is a message pushed to this user.
type MessageEvent struct {
	Message message.Message
}

// ErrorEvent is sent by the server right before it closes the connection.
type ErrorEvent struct {
	Code    int
	Message string
}

func (PresenceEvent) eventType() string { return message.EventOnlineUsers }
func (MessageEvent) eventType() string  { return message.EventNewMessage }
func (ErrorEvent) eventType() string    { return message.EventError }

var errUnknownEvent = errors.New("unknown event type")

// DecodeEvent parses and validates one realtime frame.
func DecodeEvent(frame []byte) (Event, error) {
	var env message.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case message.EventOnlineUsers:
		var ids []string
		if err := json.Unmarshal(env.Payload, &ids); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		for i, id := range ids {
			if strings.TrimSpace(id) == "" {
				return nil, fmt.Errorf("decode %s: empty id at index %d", env.Type, i)
			}
		}
		return PresenceEvent{Online: ids}, nil

	case message.EventNewMessage:
		var m message.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return MessageEvent{Message: m}, nil

	case message.EventError:
		var p message.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return ErrorEvent{Code: p.Code, Message: p.Message}, nil

	default:
		return nil, fmt.Errorf("%w %q", errUnknownEvent, env.Type)
	}
}
