package messenger

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"edchat/internal/app/message"
	"edchat/internal/app/user"
	"edchat/internal/messenger/api"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/req"
	"edchat/internal/pkg/resp"
)

var (
	alice = user.User{ID: "alice", Name: "Alice", Role: user.RoleStudent}
	bob   = user.User{ID: "bob", Name: "Bob", Role: user.RoleTeacher}
	carol = user.User{ID: "carol", Name: "Carol", Role: user.RoleStudent}
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func msg(id, sender, receiver, text string, offset time.Duration) message.Message {
	return message.Message{ID: id, SenderID: sender, ReceiverID: receiver, Text: text, CreatedAt: t0.Add(offset)}
}

// fakeBackend serves the REST contracts and the realtime channel for one
// logged-in user ("alice").
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	users       []user.User
	history     map[string][]message.Message
	historyGate map[string]chan struct{}
	historyFail map[string]bool
	sendFail    bool
	sent        []string
	handshakes  int
	nextID      int

	wsGate    chan struct{}
	wsArrived chan struct{}

	conns chan *websocket.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	fb := &fakeBackend{
		t:           t,
		users:       []user.User{bob, carol},
		history:     make(map[string][]message.Message),
		historyGate: make(map[string]chan struct{}),
		historyFail: make(map[string]bool),
		wsArrived:   make(chan struct{}, 4),
		conns:       make(chan *websocket.Conn, 4),
	}

	upgrader := websocket.Upgrader{}

	r := chi.NewRouter()
	r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		if customErr := req.BindJSON(r, &in); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if in["username"] != "alice_1" || in["password"] != "secret12" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}
		resp.RespondSuccess(w, r, api.AuthResult{Token: "tok-alice", User: alice})
	})
	r.Get("/api/messages/users", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		users := fb.users
		fb.mu.Unlock()
		resp.RespondSuccess(w, r, users)
	})
	r.Get("/api/messages/{partnerId}", func(w http.ResponseWriter, r *http.Request) {
		partnerID := chi.URLParam(r, "partnerId")

		fb.mu.Lock()
		gate := fb.historyGate[partnerID]
		fb.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		fb.mu.Lock()
		fail := fb.historyFail[partnerID]
		msgs := fb.history[partnerID]
		fb.mu.Unlock()

		if fail {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}
		if msgs == nil {
			msgs = []message.Message{}
		}
		resp.RespondSuccess(w, r, msgs)
	})
	r.Post("/api/messages/send/{partnerId}", func(w http.ResponseWriter, r *http.Request) {
		partnerID := chi.URLParam(r, "partnerId")
		if customErr := req.SetupMultipart(w, r); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		fb.mu.Lock()
		defer fb.mu.Unlock()

		if fb.sendFail {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		fb.nextID++
		m := message.Message{
			ID:         "sent-" + strconv.Itoa(fb.nextID),
			SenderID:   alice.ID,
			ReceiverID: partnerID,
			Text:       r.FormValue("text"),
			CreatedAt:  t0.Add(time.Hour),
		}
		if req.OptionalFile(r, "image") != nil {
			m.Image = "/api/file/download?k=img"
		}
		fb.sent = append(fb.sent, m.Text)
		resp.RespondCreated(w, r, m)
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("userId") != alice.ID || r.Header.Get("Authorization") != "Bearer tok-alice" {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		fb.mu.Lock()
		gate := fb.wsGate
		fb.mu.Unlock()
		if gate != nil {
			fb.wsArrived <- struct{}{}
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.handshakes++
		fb.mu.Unlock()
		fb.conns <- conn
	})

	fb.srv = httptest.NewServer(r)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) apiClient() *api.Client {
	base, err := url.Parse(fb.srv.URL)
	require.NoError(fb.t, err)
	return api.New(base, fb.srv.Client())
}

func (fb *fakeBackend) setHistory(partnerID string, msgs ...message.Message) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.history[partnerID] = msgs
}

// gateHistory holds history responses for partnerID until the returned func is called.
func (fb *fakeBackend) gateHistory(partnerID string) func() {
	gate := make(chan struct{})
	fb.mu.Lock()
	fb.historyGate[partnerID] = gate
	fb.mu.Unlock()

	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	fb.t.Cleanup(release)
	return release
}

// gateHandshake holds realtime handshakes until the returned func is called.
func (fb *fakeBackend) gateHandshake() func() {
	gate := make(chan struct{})
	fb.mu.Lock()
	fb.wsGate = gate
	fb.mu.Unlock()

	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	fb.t.Cleanup(release)
	return release
}

// awaitHandshake waits until a gated handshake reaches the server.
func (fb *fakeBackend) awaitHandshake() {
	fb.t.Helper()
	select {
	case <-fb.wsArrived:
	case <-time.After(3 * time.Second):
		fb.t.Fatal("no realtime handshake")
	}
}

func (fb *fakeBackend) failHistory(partnerID string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.historyFail[partnerID] = true
}

func (fb *fakeBackend) handshakeCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.handshakes
}

// accept returns the server side of the next realtime connection.
func (fb *fakeBackend) accept() *serverConn {
	fb.t.Helper()
	select {
	case conn := <-fb.conns:
		fb.t.Cleanup(func() { conn.Close() })
		return &serverConn{t: fb.t, conn: conn}
	case <-time.After(3 * time.Second):
		fb.t.Fatal("no realtime connection")
		return nil
	}
}

type serverConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (sc *serverConn) push(eventType string, payload any) {
	sc.t.Helper()
	frame, err := message.Encode(eventType, payload)
	require.NoError(sc.t, err)
	require.NoError(sc.t, sc.conn.WriteMessage(websocket.TextMessage, frame))
}

func (sc *serverConn) presence(ids ...string) {
	sc.push(message.EventOnlineUsers, ids)
}

func (sc *serverConn) message(m message.Message) {
	sc.push(message.EventNewMessage, m)
}

func (sc *serverConn) raw(frame string) {
	sc.t.Helper()
	require.NoError(sc.t, sc.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// expectClosed waits until the client closes its end.
func (sc *serverConn) expectClosed() {
	sc.t.Helper()
	require.NoError(sc.t, sc.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := sc.conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				sc.t.Fatal("client did not close the connection")
			}
			return
		}
	}
}
