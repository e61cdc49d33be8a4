package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edchat/internal/app/message"
	"edchat/internal/pkg/errs"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Shutdown)
	return h
}

func nextFrame(t *testing.T, c *Client) (message.Envelope, bool) {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if !ok {
			return message.Envelope{}, false
		}
		var env message.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env, true
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.userID)
		return message.Envelope{}, false
	}
}

func presence(t *testing.T, env message.Envelope) []string {
	t.Helper()
	require.Equal(t, message.EventOnlineUsers, env.Type)
	var ids []string
	require.NoError(t, json.Unmarshal(env.Payload, &ids))
	return ids
}

func TestRegisterBroadcastsFullPresenceList(t *testing.T) {
	h := startHub(t)
	a := NewClient(h, nil, "a")
	b := NewClient(h, nil, "b")

	require.True(t, h.Register(a))
	env, _ := nextFrame(t, a)
	assert.Equal(t, []string{"a"}, presence(t, env))

	require.True(t, h.Register(b))
	env, _ = nextFrame(t, a)
	assert.Equal(t, []string{"a", "b"}, presence(t, env))
	env, _ = nextFrame(t, b)
	assert.Equal(t, []string{"a", "b"}, presence(t, env))

	assert.True(t, h.IsOnline("b"))
	assert.Equal(t, []string{"a", "b"}, h.OnlineIDs())
}

func TestUnregisterRemovesAndRebroadcasts(t *testing.T) {
	h := startHub(t)
	a := NewClient(h, nil, "a")
	b := NewClient(h, nil, "b")
	h.Register(a)
	h.Register(b)
	nextFrame(t, a)
	nextFrame(t, a)
	nextFrame(t, b)

	h.Unregister(b)

	env, _ := nextFrame(t, a)
	assert.Equal(t, []string{"a"}, presence(t, env))

	_, open := nextFrame(t, b)
	assert.False(t, open, "send queue of removed client must be closed")
	assert.False(t, h.IsOnline("b"))
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	h := startHub(t)
	first := NewClient(h, nil, "a")
	second := NewClient(h, nil, "a")

	h.Register(first)
	nextFrame(t, first)

	h.Register(second)

	env, open := nextFrame(t, first)
	require.True(t, open)
	assert.Equal(t, message.EventError, env.Type)
	var payload message.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, errs.ErrSessionReplaced, payload.Code)

	_, open = nextFrame(t, first)
	assert.False(t, open)
	assert.Equal(t, WsCloseCodeSessionReplaced, first.closeCode)

	env, _ = nextFrame(t, second)
	assert.Equal(t, []string{"a"}, presence(t, env))

	// The replaced connection's read loop ends later; it must not evict the new one.
	h.Unregister(first)
	h.Deliver("a", message.Message{ID: "m1", SenderID: "b", Text: "still here", CreatedAt: time.Now()})
	env, open = nextFrame(t, second)
	require.True(t, open)
	assert.Equal(t, message.EventNewMessage, env.Type)
}

func TestDeliverOnlyReachesReceiver(t *testing.T) {
	h := startHub(t)
	a := NewClient(h, nil, "a")
	b := NewClient(h, nil, "b")
	h.Register(a)
	h.Register(b)
	nextFrame(t, a)
	nextFrame(t, a)
	nextFrame(t, b)

	h.Deliver("b", message.Message{ID: "m1", SenderID: "a", ReceiverID: "b", Text: "hi", CreatedAt: time.Now()})
	h.Deliver("offline", message.Message{ID: "m2", SenderID: "a", Text: "nobody", CreatedAt: time.Now()})

	env, _ := nextFrame(t, b)
	require.Equal(t, message.EventNewMessage, env.Type)
	var m message.Message
	require.NoError(t, json.Unmarshal(env.Payload, &m))
	assert.Equal(t, "m1", m.ID)

	select {
	case frame := <-a.send:
		t.Fatalf("sender received unexpected frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdownClosesQueuesAndRejectsRegister(t *testing.T) {
	h := NewHub()
	go h.Run()

	a := NewClient(h, nil, "a")
	h.Register(a)
	nextFrame(t, a)

	h.Shutdown()
	h.Shutdown()

	_, open := nextFrame(t, a)
	assert.False(t, open)
	assert.False(t, h.Register(NewClient(h, nil, "b")))
}
