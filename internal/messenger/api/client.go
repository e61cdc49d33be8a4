/*
Package api is the HTTP client for the chat server's REST endpoints.

Every response is the {code, message, data} envelope. A non-zero code comes
back as *errs.CustomError, so callers can switch on errs.CodeOf(err).
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"edchat/internal/app/message"
	"edchat/internal/app/user"
	"edchat/internal/pkg/errs"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds a decoded response; history is unpaginated.
	maxResponseBytes = 16 << 20
)

// AuthResult is returned by Login and Register.
type AuthResult struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

// RegisterInput is the body of the register call. DisplayName and Role are optional.
type RegisterInput struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Image is an attachment for Send.
type Image struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to one chat server. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a Client for baseURL. A nil httpClient gets a default with a timeout.
func New(baseURL *url.URL, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	u := *baseURL
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return &Client{baseURL: &u, httpClient: httpClient}
}

// SetToken sets the bearer token sent with every request. Empty clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// RealtimeURL is the websocket address of userID's realtime channel.
func (c *Client) RealtimeURL(userID string) string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"userId": {userID}}.Encode()
	return u.String()
}

// ResolveURL makes a server-relative reference such as a Message image absolute.
func (c *Client) ResolveURL(ref string) string {
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.baseURL.ResolveReference(parsed).String()
}

// Login authenticates and returns the token and user record.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"username": username, "password": password}
	if err := c.postJSON(ctx, "/api/auth/login", body, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its token.
func (c *Client) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	var out AuthResult
	if err := c.postJSON(ctx, "/api/auth/register", in, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Users returns the user directory without the caller.
func (c *Client) Users(ctx context.Context) ([]user.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/messages/users", nil)
	if err != nil {
		return nil, err
	}

	var out []user.User
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the conversation with partnerID in server order.
func (c *Client) History(ctx context.Context, partnerID string) ([]message.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/messages/"+partnerID, nil)
	if err != nil {
		return nil, err
	}

	var out []message.Message
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Send posts text and an optional image to partnerID and returns the stored message.
func (c *Client) Send(ctx context.Context, partnerID string, text string, img *Image) (message.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if text != "" {
		if err := mw.WriteField("text", text); err != nil {
			return message.Message{}, fmt.Errorf("build send form: %w", err)
		}
	}

	if img != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(img.Filename)))
		h.Set("Content-Type", img.ContentType)

		part, err := mw.CreatePart(h)
		if err != nil {
			return message.Message{}, fmt.Errorf("build send form: %w", err)
		}
		if _, err := io.Copy(part, img.Body); err != nil {
			return message.Message{}, fmt.Errorf("read image: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return message.Message{}, fmt.Errorf("build send form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/messages/send/"+partnerID, &buf)
	if err != nil {
		return message.Message{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out message.Message
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return message.Message{}, err
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in any, want int, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, want, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path += path
	u.RawPath = ""

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}

	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return errs.FromResponse(errs.ErrUnknown, http.StatusText(res.StatusCode), res.StatusCode)
		}
		return fmt.Errorf("%s %s: decode envelope: %w", req.Method, req.URL.Path, err)
	}

	if env.Code != 0 {
		return errs.FromResponse(env.Code, env.Message, res.StatusCode)
	}

	if res.StatusCode != want {
		return errs.FromResponse(errs.ErrUnknown, fmt.Sprintf("unexpected status %d", res.StatusCode), res.StatusCode)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", req.Method, req.URL.Path, err)
	}

	return nil
}
