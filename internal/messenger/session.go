package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"edchat/internal/app/message"
	"edchat/internal/app/user"
	"edchat/internal/messenger/api"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/logx"
)

// Image is an attachment for Send.
type Image = api.Image

// Config configures a Session.
type Config struct {
	API         *api.Client
	Credentials CredentialStore

	// Notifier receives the user-facing failure notices. Defaults to a no-op.
	Notifier Notifier

	Dialer *websocket.Dialer

	// Deduplicate drops messages whose id is already in the Store.
	Deduplicate bool

	// OnMessage is called for every pushed message accepted into the Store.
	// It runs on the connection's read goroutine and must not call back into
	// SelectPartner, ClearSelection or Logout.
	OnMessage func(message.Message)

	// OnPresence is called after every presence push.
	OnPresence func(online []string)

	// OnServerError is called for error frames, e.g. when another login
	// replaced this connection.
	OnServerError func(ErrorEvent)
}

// Session is one client instance: the logged-in user, its realtime
// Connection, the online set and the open conversation.
type Session struct {
	api       *api.Client
	creds     CredentialStore
	notifier  Notifier
	onMessage func(message.Message)
	logger    zerolog.Logger

	conn     *Connection
	presence *Presence
	store    *Store
	sub      *Subscription

	mu         sync.Mutex
	self       *user.User
	selection  *user.User
	selGen     uint64
	loadSeq    uint64
	cancelLoad context.CancelFunc
}

func NewSession(cfg Config) *Session {
	s := &Session{
		api:       cfg.API,
		creds:     cfg.Credentials,
		notifier:  cfg.Notifier,
		onMessage: cfg.OnMessage,
		logger:    logx.Component("session"),
		presence:  NewPresence(),
		store:     NewStore(cfg.Deduplicate),
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}

	s.conn = NewConnection(ConnectionConfig{
		Endpoint:      cfg.API.RealtimeURL,
		Token:         cfg.API.Token,
		Presence:      s.presence,
		Dialer:        cfg.Dialer,
		OnPresence:    cfg.OnPresence,
		OnServerError: cfg.OnServerError,
	})
	s.sub = NewSubscription(s.conn, s.acceptPush, s.switchConversation)

	return s
}

// Login authenticates, persists the credentials and opens the realtime channel.
func (s *Session) Login(ctx context.Context, username, password string) error {
	res, err := s.api.Login(ctx, username, password)
	if err != nil {
		s.notifier.Notify("Login failed: " + userMessage(err))
		return fmt.Errorf("login: %w", err)
	}
	return s.start(ctx, Credentials{Token: res.Token, User: res.User}, true)
}

// Register creates an account and logs into it.
func (s *Session) Register(ctx context.Context, in api.RegisterInput) error {
	res, err := s.api.Register(ctx, in)
	if err != nil {
		s.notifier.Notify("Registration failed: " + userMessage(err))
		return fmt.Errorf("register: %w", err)
	}
	return s.start(ctx, Credentials{Token: res.Token, User: res.User}, true)
}

// Rehydrate restores the session persisted by an earlier Login. It returns
// an error wrapping ErrNoSession when nothing usable is stored.
func (s *Session) Rehydrate(ctx context.Context) error {
	creds, err := s.creds.Load()
	if err != nil {
		return err
	}
	return s.start(ctx, creds, false)
}

func (s *Session) start(ctx context.Context, creds Credentials, persist bool) error {
	if err := creds.validate(); err != nil {
		return fmt.Errorf("start session: invalid credentials from server: %w", err)
	}

	if _, ok := s.Self(); ok {
		s.Close()
		s.ClearSelection()
	}

	s.api.SetToken(creds.Token)
	if persist {
		if err := s.creds.Save(creds); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist credentials")
		}
	}

	u := creds.User
	s.mu.Lock()
	s.self = &u
	s.mu.Unlock()

	s.logger.Info().Str("user_id", u.ID).Str("role", u.Role).Msg("Session started")

	s.conn.Establish(ctx, u.ID)
	return nil
}

// Logout closes the realtime channel, forgets the open conversation and
// removes the persisted credentials.
func (s *Session) Logout() error {
	s.conn.Teardown()
	s.ClearSelection()

	s.mu.Lock()
	s.self = nil
	s.mu.Unlock()

	s.api.SetToken("")

	if err := s.creds.Clear(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Close tears the realtime channel down but keeps the persisted credentials.
func (s *Session) Close() {
	s.conn.Teardown()
}

// Self returns the logged-in user.
func (s *Session) Self() (user.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.self == nil {
		return user.User{}, false
	}
	return *s.self, true
}

// Connected reports whether the realtime channel is open.
func (s *Session) Connected() bool {
	return s.conn.Connected()
}

// Users returns the user directory, dropping malformed entries.
func (s *Session) Users(ctx context.Context) ([]user.User, error) {
	if _, ok := s.Self(); !ok {
		return nil, ErrNoSession
	}

	users, err := s.api.Users(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("User directory load failed")
		s.notifier.Notify("Could not load users: " + userMessage(err))
		return nil, fmt.Errorf("load users: %w", err)
	}

	valid := make([]user.User, 0, len(users))
	for _, u := range users {
		if err := u.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("user_id", u.ID).Msg("Dropping malformed user record")
			continue
		}
		valid = append(valid, u)
	}
	return valid, nil
}

// IsOnline reports whether userID was in the last presence push.
func (s *Session) IsOnline(userID string) bool {
	return s.presence.IsOnline(userID)
}

// OnlineUsers returns the ids of the last presence push.
func (s *Session) OnlineUsers() []string {
	return s.presence.Snapshot()
}

// OnlineCount is the number of online users other than the caller.
func (s *Session) OnlineCount() int {
	self, _ := s.Self()
	return s.presence.CountExcept(self.ID)
}

// Selection returns the open conversation partner.
func (s *Session) Selection() (user.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selection == nil {
		return user.User{}, false
	}
	return *s.selection, true
}

// Messages returns the messages of the open conversation in arrival order.
func (s *Session) Messages() []message.Message {
	return s.store.Snapshot()
}

// SelectPartner opens the conversation with partner: the Store is emptied,
// the push subscription moves to partner and the history is loaded. Pushes
// arriving during the load are merged after it. The Store stays empty if
// the load fails.
func (s *Session) SelectPartner(ctx context.Context, partner user.User) error {
	if err := partner.Validate(); err != nil {
		return fmt.Errorf("select partner: %w", err)
	}

	s.mu.Lock()
	if s.self == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if partner.ID == s.self.ID {
		s.mu.Unlock()
		return errs.NewError(errs.ErrSelfConversation)
	}

	s.selection = &partner
	s.selGen++
	s.sub.Subscribe(partner.ID)
	loadCtx, seq := s.startLoadLocked(ctx)
	s.mu.Unlock()

	return s.loadHistory(loadCtx, seq, partner.ID)
}

// LoadHistory reloads the open conversation, replacing the Store.
func (s *Session) LoadHistory(ctx context.Context) error {
	s.mu.Lock()
	if s.selection == nil {
		s.mu.Unlock()
		return ErrNoSelection
	}

	partnerID := s.selection.ID
	s.store.BeginLoad()
	loadCtx, seq := s.startLoadLocked(ctx)
	s.mu.Unlock()

	return s.loadHistory(loadCtx, seq, partnerID)
}

// ClearSelection closes the open conversation.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selection = nil
	s.selGen++
	s.loadSeq++
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}

	s.sub.Unsubscribe()
	s.store.Reset()
}

// startLoadLocked cancels the running load and starts a new one. s.mu must be held.
func (s *Session) startLoadLocked(parent context.Context) (context.Context, uint64) {
	if s.cancelLoad != nil {
		s.cancelLoad()
	}

	ctx, cancel := context.WithCancel(parent)
	s.cancelLoad = cancel
	s.loadSeq++

	return ctx, s.loadSeq
}

func (s *Session) loadHistory(ctx context.Context, seq uint64, partnerID string) error {
	msgs, err := s.api.History(ctx, partnerID)

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		s.logger.Debug().Str("partner_id", partnerID).Msg("Discarding superseded history load")
		return ErrSelectionChanged
	}

	s.cancelLoad()
	s.cancelLoad = nil

	if err != nil {
		s.store.AbortLoad()
		s.mu.Unlock()

		s.logger.Error().Err(err).Str("partner_id", partnerID).Msg("History load failed")
		s.notifier.Notify("Could not load messages: " + userMessage(err))
		return fmt.Errorf("load history: %w", err)
	}

	valid := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("message_id", m.ID).Msg("Dropping malformed history record")
			continue
		}
		valid = append(valid, m)
	}

	s.store.FinishLoad(valid)
	s.mu.Unlock()

	s.logger.Debug().Str("partner_id", partnerID).Int("count", len(valid)).Msg("History loaded")
	return nil
}

// Send posts text and an optional image to the open conversation. The
// server's stored copy is appended to the Store only after the call
// succeeds; failures are logged and returned, nothing is appended.
func (s *Session) Send(ctx context.Context, text string, img *Image) (message.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && img == nil {
		return message.Message{}, ErrEmptyMessage
	}
	if img != nil && !message.IsImageMIME(img.ContentType) {
		return message.Message{}, ErrNotImage
	}

	s.mu.Lock()
	if s.self == nil {
		s.mu.Unlock()
		return message.Message{}, ErrNoSession
	}
	if s.selection == nil {
		s.mu.Unlock()
		return message.Message{}, ErrNoSelection
	}
	partnerID := s.selection.ID
	gen := s.selGen
	s.mu.Unlock()

	m, err := s.api.Send(ctx, partnerID, text, img)
	if err != nil {
		s.logger.Error().Err(err).Str("partner_id", partnerID).Msg("Send failed")
		return message.Message{}, fmt.Errorf("send: %w", err)
	}
	if err := m.Validate(); err != nil {
		s.logger.Error().Err(err).Str("partner_id", partnerID).Msg("Server returned a malformed message")
		return message.Message{}, fmt.Errorf("send: %w", err)
	}

	s.mu.Lock()
	if gen == s.selGen {
		s.store.Append(m)
	}
	s.mu.Unlock()

	return m, nil
}

// ImageURL turns a Message image reference into an absolute URL.
func (s *Session) ImageURL(m message.Message) string {
	return s.api.ResolveURL(m.Image)
}

func (s *Session) acceptPush(m message.Message) {
	if s.store.Append(m) && s.onMessage != nil {
		s.onMessage(m)
	}
}

func (s *Session) switchConversation(string) {
	s.store.Reset()
	s.store.BeginLoad()
}

func userMessage(err error) string {
	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return customErr.Message
	}
	return err.Error()
}
