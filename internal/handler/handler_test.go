package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"edchat/internal/app/chat"
	"edchat/internal/app/db"
	"edchat/internal/app/message"
	"edchat/internal/app/user"
	"edchat/internal/configs"
	"edchat/internal/pkg/auth/jwt"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/randx"
)

const testSecret = "test-secret"

const (
	aliceID = "6f1c2a4e-0b7d-4c1e-9a55-1d2f3e4a5b6c"
	bobID   = "8a9b0c1d-2e3f-4a5b-8c7d-9e0f1a2b3c4d"
	msgID1  = "0e6f1f0c-8f55-4b53-9d7a-3c2b1a0f9e8d"
	msgID2  = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
)

var bobRow = db.UserRow{ID: bobID, Username: "bob_01", DisplayName: "Bob", Role: user.RoleTeacher}

type testEnv struct {
	hub      *chat.Hub
	users    *UserRepositoryMock
	messages *MessageRepositoryMock
	storage  *StorageMock
	handler  http.Handler
}

func newTestEnv(t *testing.T, withStorage bool) *testEnv {
	t.Helper()

	hub := chat.NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	env := &testEnv{
		hub:      hub,
		users:    new(UserRepositoryMock),
		messages: new(MessageRepositoryMock),
		storage:  new(StorageMock),
	}

	deps := &AppDeps{
		Hub:      hub,
		Config:   &configs.AppConfig{Environment: "development", JWTSecret: testSecret},
		Users:    env.users,
		Messages: env.messages,
	}
	if withStorage {
		deps.Storage = env.storage
	}

	env.handler = Router(ctx, deps)
	return env
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, r *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)

	var body envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func bearer(t *testing.T, r *http.Request, userID string) *http.Request {
	t.Helper()
	token, err := jwt.GenerateToken(&jwt.Payload{ID: userID, Role: user.RoleStudent, Name: "tester"}, testSecret, time.Hour)
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func jsonRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

type imagePart struct {
	filename    string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, target, text string, img *imagePart) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if text != "" {
		require.NoError(t, mw.WriteField("text", text))
	}
	if img != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="`+img.filename+`"`)
		h.Set("Content-Type", img.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(img.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, target, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, body.Code)
}

func TestRegisterSuccess(t *testing.T) {
	env := newTestEnv(t, false)

	env.users.On("CreateUser", mock.Anything, mock.MatchedBy(func(p db.CreateUserParams) bool {
		return p.Username == "alice_1" &&
			p.Role == user.RoleStudent &&
			strings.HasPrefix(p.DisplayName, "User_") &&
			bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte("secret12")) == nil
	})).Return(db.UserRow{ID: aliceID, Username: "alice_1", DisplayName: "User_abc123", Role: user.RoleStudent}, nil).Once()

	rec, body := env.do(t, jsonRequest(http.MethodPost, "/api/auth/register", `{"username":"alice_1","password":"secret12"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	var result AuthResult
	require.NoError(t, json.Unmarshal(body.Data, &result))
	assert.Equal(t, aliceID, result.User.ID)
	assert.Equal(t, "User_abc123", result.User.Name)

	payload, err := jwt.ParseToken(result.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, aliceID, payload.ID)

	env.users.AssertExpectations(t)
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"short username", `{"username":"al","password":"secret12"}`, http.StatusBadRequest, errs.ErrInvalidUsername},
		{"upper case username", `{"username":"Alice","password":"secret12"}`, http.StatusBadRequest, errs.ErrInvalidUsername},
		{"short password", `{"username":"alice_1","password":"123"}`, http.StatusBadRequest, errs.ErrInvalidPassword},
		{"unknown role", `{"username":"alice_1","password":"secret12","role":"guest"}`, http.StatusBadRequest, errs.ErrInvalidRole},
		{"unknown field", `{"username":"alice_1","password":"secret12","admin":true}`, http.StatusBadRequest, errs.ErrInvalidJSONFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, false)

			rec, body := env.do(t, jsonRequest(http.MethodPost, "/api/auth/register", tc.body))

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, body.Code)
			env.users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
		})
	}
}

func TestRegisterRequiresJSON(t *testing.T) {
	env := newTestEnv(t, false)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("username=alice_1"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec, body := env.do(t, r)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, errs.ErrUnsupportedMediaType, body.Code)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	env := newTestEnv(t, false)
	env.users.On("CreateUser", mock.Anything, mock.Anything).Return(nil, &pgconn.PgError{Code: "23505"}).Once()

	rec, body := env.do(t, jsonRequest(http.MethodPost, "/api/auth/register", `{"username":"alice_1","password":"secret12","role":"teacher","displayName":"Alice"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, errs.ErrUserAlreadyExists, body.Code)
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret12"), bcrypt.MinCost)
	require.NoError(t, err)
	row := db.UserRow{ID: aliceID, Username: "alice_1", PasswordHash: string(hash), DisplayName: "Alice", Role: user.RoleStudent}

	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.users.On("GetUserByUsername", mock.Anything, "alice_1").Return(row, nil).Once()

		rec, body := env.do(t, jsonRequest(http.MethodPost, "/api/auth/login", `{"username":"alice_1","password":"secret12"}`))

		require.Equal(t, http.StatusOK, rec.Code)
		var result AuthResult
		require.NoError(t, json.Unmarshal(body.Data, &result))
		assert.Equal(t, user.User{ID: aliceID, Name: "Alice", Role: user.RoleStudent}, result.User)
		assert.NotEmpty(t, result.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.users.On("GetUserByUsername", mock.Anything, "alice_1").Return(row, nil).Once()

		rec, body := env.do(t, jsonRequest(http.MethodPost, "/api/auth/login", `{"username":"alice_1","password":"nope-nope"}`))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, errs.ErrInvalidCredentials, body.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.users.On("GetUserByUsername", mock.Anything, "ghost").Return(nil, db.ErrNotFound).Once()

		rec, body := env.do(t, jsonRequest(http.MethodPost, "/api/auth/login", `{"username":"ghost","password":"secret12"}`))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, errs.ErrInvalidCredentials, body.Code)
	})
}

func TestMessageRoutesRequireIdentity(t *testing.T) {
	env := newTestEnv(t, false)

	for _, target := range []string{"/api/messages/users", "/api/messages/" + bobID} {
		rec, body := env.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Equal(t, errs.ErrUnauthorized, body.Code, target)
	}
}

func TestListUsersExcludesCaller(t *testing.T) {
	env := newTestEnv(t, false)
	env.users.On("ListUsersExcept", mock.Anything, aliceID).Return([]db.UserRow{bobRow}, nil).Once()

	rec, body := env.do(t, bearer(t, httptest.NewRequest(http.MethodGet, "/api/messages/users", nil), aliceID))

	require.Equal(t, http.StatusOK, rec.Code)
	var users []user.User
	require.NoError(t, json.Unmarshal(body.Data, &users))
	assert.Equal(t, []user.User{{ID: bobID, Name: "Bob", Role: user.RoleTeacher}}, users)
	env.users.AssertExpectations(t)
}

func TestGetMessagesKeepsRepositoryOrder(t *testing.T) {
	env := newTestEnv(t, false)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	imageKey := "chat-images/" + bobID + "/" + msgID1 + ".png"

	env.messages.On("ListConversation", mock.Anything, aliceID, bobID).Return([]db.MessageRow{
		{ID: msgID2, SenderID: bobID, ReceiverID: aliceID, Text: "hi", CreatedAt: base},
		{ID: msgID1, SenderID: aliceID, ReceiverID: bobID, ImageKey: imageKey, CreatedAt: base.Add(time.Second)},
	}, nil).Once()

	rec, body := env.do(t, bearer(t, httptest.NewRequest(http.MethodGet, "/api/messages/"+bobID, nil), aliceID))

	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []message.Message
	require.NoError(t, json.Unmarshal(body.Data, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, msgID2, msgs[0].ID)
	assert.Equal(t, msgID1, msgs[1].ID)
	assert.Equal(t, ImageURL(imageKey), msgs[1].Image)
	assert.Empty(t, msgs[0].Image)
}

func TestGetMessagesRejectsBadPartner(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, bearer(t, httptest.NewRequest(http.MethodGet, "/api/messages/"+aliceID, nil), aliceID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errs.ErrSelfConversation, body.Code)

	rec, body = env.do(t, bearer(t, httptest.NewRequest(http.MethodGet, "/api/messages/not-a-uuid", nil), aliceID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errs.ErrInvalidParams, body.Code)
}

func TestSendMessageValidation(t *testing.T) {
	cases := []struct {
		name    string
		partner string
		text    string
		img     *imagePart
		status  int
		code    int
	}{
		{"empty", bobID, "   ", nil, http.StatusBadRequest, errs.ErrEmptyMessage},
		{"self", aliceID, "hi", nil, http.StatusBadRequest, errs.ErrSelfConversation},
		{"too long", bobID, strings.Repeat("a", message.MaxTextBytes+1), nil, http.StatusBadRequest, errs.ErrMessageContentTooLong},
		{"not an image", bobID, "", &imagePart{"notes.txt", "text/plain", []byte("hello")}, http.StatusBadRequest, errs.ErrFileTypeInvalid},
		{"extension mismatch", bobID, "", &imagePart{"cat.jpg", "image/png", pngBytes}, http.StatusBadRequest, errs.ErrFileTypeInvalid},
		{"storage disabled", bobID, "", &imagePart{"cat.png", "image/png", pngBytes}, http.StatusBadGateway, errs.ErrFileStorageFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, false)

			r := bearer(t, multipartRequest(t, "/api/messages/send/"+tc.partner, tc.text, tc.img), aliceID)
			rec, body := env.do(t, r)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, body.Code)
			env.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestSendMessageUnknownPartner(t *testing.T) {
	env := newTestEnv(t, false)
	env.users.On("GetUserByID", mock.Anything, bobID).Return(nil, db.ErrNotFound).Once()

	rec, body := env.do(t, bearer(t, multipartRequest(t, "/api/messages/send/"+bobID, "hi", nil), aliceID))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errs.ErrPartnerNotFound, body.Code)
}

func TestSendTextMessagePushesToPartner(t *testing.T) {
	env := newTestEnv(t, false)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	env.users.On("GetUserByID", mock.Anything, bobID).Return(bobRow, nil)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p db.CreateMessageParams) bool {
		return p.SenderID == aliceID && p.ReceiverID == bobID && p.Text == "hello" && p.ImageKey == "" && randx.IsValidID(p.ID)
	})).Return(db.MessageRow{ID: msgID1, SenderID: aliceID, ReceiverID: bobID, Text: "hello", CreatedAt: created}, nil).Once()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, bobID), tokenHeader(t, bobID))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var frame message.Envelope
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, message.EventOnlineUsers, frame.Type)
	var online []string
	require.NoError(t, json.Unmarshal(frame.Payload, &online))
	assert.Equal(t, []string{bobID}, online)

	r := bearer(t, multipartRequest(t, "/api/messages/send/"+bobID, "  hello  ", nil), aliceID)
	rec, body := env.do(t, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	var sent message.Message
	require.NoError(t, json.Unmarshal(body.Data, &sent))
	assert.Equal(t, msgID1, sent.ID)
	assert.True(t, created.Equal(sent.CreatedAt))

	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, message.EventNewMessage, frame.Type)
	var pushed message.Message
	require.NoError(t, json.Unmarshal(frame.Payload, &pushed))
	assert.Equal(t, sent, pushed)

	env.messages.AssertExpectations(t)
}

func TestSendImageMessage(t *testing.T) {
	env := newTestEnv(t, true)
	env.users.On("GetUserByID", mock.Anything, bobID).Return(bobRow, nil).Once()

	var uploadedKey string
	env.storage.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return randx.IsImageKey(key) && strings.HasPrefix(key, "chat-images/"+aliceID+"/") && strings.HasSuffix(key, ".png")
	}), "image/png", pngBytes).Run(func(args mock.Arguments) {
		uploadedKey = args.String(1)
	}).Return(nil).Once()

	storedKey := "chat-images/" + aliceID + "/" + msgID2 + ".png"
	env.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p db.CreateMessageParams) bool {
		return p.ImageKey != "" && p.ImageKey == uploadedKey && p.Text == "look"
	})).Return(db.MessageRow{ID: msgID1, SenderID: aliceID, ReceiverID: bobID, Text: "look", ImageKey: storedKey, CreatedAt: time.Now()}, nil).Once()

	r := bearer(t, multipartRequest(t, "/api/messages/send/"+bobID, "look", &imagePart{"Cat.PNG", "image/png", pngBytes}), aliceID)
	rec, body := env.do(t, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	var sent message.Message
	require.NoError(t, json.Unmarshal(body.Data, &sent))
	assert.Equal(t, ImageURL(storedKey), sent.Image)
	assert.Equal(t, "look", sent.Text)

	env.storage.AssertExpectations(t)
	env.messages.AssertExpectations(t)
}

func TestSendImageRollsBackUploadWhenInsertFails(t *testing.T) {
	env := newTestEnv(t, true)
	env.users.On("GetUserByID", mock.Anything, bobID).Return(bobRow, nil).Once()

	var uploadedKey string
	env.storage.On("Upload", mock.Anything, mock.AnythingOfType("string"), "image/png", pngBytes).Run(func(args mock.Arguments) {
		uploadedKey = args.String(1)
	}).Return(nil).Once()
	env.storage.On("Delete", mock.Anything, mock.MatchedBy(func(key string) bool {
		return key == uploadedKey
	})).Return(nil).Once()
	env.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, &pgconn.PgError{Code: "23503"}).Once()

	r := bearer(t, multipartRequest(t, "/api/messages/send/"+bobID, "", &imagePart{"cat.png", "image/png", pngBytes}), aliceID)
	rec, body := env.do(t, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errs.ErrPartnerNotFound, body.Code)
	env.storage.AssertExpectations(t)
}

func TestImageDownload(t *testing.T) {
	key := "chat-images/" + aliceID + "/" + msgID1 + ".png"

	t.Run("redirects to presigned url", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.storage.On("PresignDownload", mock.Anything, key, message.ImageURLDuration).
			Return("https://s3.example/bucket/obj?sig=1", nil).Once()

		rec, _ := env.do(t, httptest.NewRequest(http.MethodGet, ImageURL(key), nil))

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://s3.example/bucket/obj?sig=1", rec.Header().Get("Location"))
	})

	t.Run("rejects foreign keys", func(t *testing.T) {
		env := newTestEnv(t, true)

		rec, body := env.do(t, httptest.NewRequest(http.MethodGet, ImageURL("../../etc/passwd"), nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, errs.ErrInvalidParams, body.Code)
		env.storage.AssertNotCalled(t, "PresignDownload", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("storage disabled", func(t *testing.T) {
		env := newTestEnv(t, false)

		rec, body := env.do(t, httptest.NewRequest(http.MethodGet, ImageURL(key), nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, errs.ErrFileStorageFailed, body.Code)
	})
}

func TestWebSocketHandshakeValidation(t *testing.T) {
	env := newTestEnv(t, false)
	env.users.On("GetUserByID", mock.Anything, bobID).Return(nil, db.ErrNotFound).Once()

	rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/ws?userId="+bobID, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no token")
	assert.Equal(t, errs.ErrUnauthorized, body.Code)

	rec, body = env.do(t, bearer(t, httptest.NewRequest(http.MethodGet, "/ws?userId=nobody", nil), "nobody"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errs.ErrInvalidParams, body.Code)

	rec, body = env.do(t, bearer(t, httptest.NewRequest(http.MethodGet, "/ws?userId="+bobID, nil), aliceID))
	assert.Equal(t, http.StatusForbidden, rec.Code, "token of another user")
	assert.Equal(t, errs.ErrIdentityMismatch, body.Code)

	rec, body = env.do(t, bearer(t, httptest.NewRequest(http.MethodGet, "/ws?userId="+bobID, nil), bobID))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "deleted user")
	assert.Equal(t, errs.ErrUnauthorized, body.Code)

	env.users.AssertExpectations(t)
}

func TestWebSocketRejectsForeignListener(t *testing.T) {
	env := newTestEnv(t, false)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	forged := http.Header{"Authorization": {"Bearer not-a-token"}}

	cases := map[string]http.Header{
		"no token":      nil,
		"invalid token": forged,
		"other user":    tokenHeader(t, aliceID),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			conn, res, err := websocket.DefaultDialer.Dial(wsURL(srv, bobID), header)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, res)
			assert.Contains(t, []int{http.StatusUnauthorized, http.StatusForbidden}, res.StatusCode)
		})
	}

	assert.Empty(t, env.hub.OnlineIDs(), "nobody was registered")
	env.users.AssertNotCalled(t, "GetUserByID", mock.Anything, bobID)
}

func wsURL(srv *httptest.Server, userID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=" + userID
}

func tokenHeader(t *testing.T, userID string) http.Header {
	t.Helper()
	token, err := jwt.GenerateToken(&jwt.Payload{ID: userID, Role: user.RoleStudent, Name: "tester"}, testSecret, time.Hour)
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestImageURLEscapesKey(t *testing.T) {
	assert.Equal(t, "", ImageURL(""))
	assert.Equal(t, "/api/file/download?k=chat-images%2Fa%2Fb.png", ImageURL("chat-images/a/b.png"))
}
