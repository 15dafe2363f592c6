// Package api is the HTTP client for the Messenger backend. It attaches
// the bearer token of the current session, normalizes success and error
// bodies, and evicts the session on 401 responses.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dmterm/internal/models"
	"dmterm/internal/session"
)

// Client talks to one backend origin on behalf of one session store.
type Client struct {
	baseURL    string
	session    *session.Store
	httpClient *http.Client
}

// NewClient creates a client for the given origin, e.g.
// "http://localhost:3000".
func NewClient(baseURL string, sess *session.Store) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		session: sess,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the backend origin the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session returns the session store the client evicts on 401.
func (c *Client) Session() *session.Store {
	return c.session
}

// Get performs a read request. Caller headers override the computed
// authorization header on name collision.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, "", headers, out)
}

// Post performs a write request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}, headers map[string]string, out interface{}) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
		contentType = "application/json; charset=utf-8"
	}
	return c.do(ctx, http.MethodPost, path, reader, contentType, headers, out)
}

// PostData performs a write request with an opaque body. No content-type
// is set here; the caller supplies one through headers if needed.
func (c *Client) PostData(ctx context.Context, path string, body io.Reader, headers map[string]string, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, "", headers, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	if c.session.IsAuthenticated() {
		req.Header.Set("Authorization", "Bearer "+c.session.Token())
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	return c.handleResponse(resp, out)
}

// handleResponse decodes the body as JSON, falling back to plain text.
// A 401 clears the persisted session before the error reaches the
// caller, whatever the request was.
func (c *Client) handleResponse(resp *http.Response, out interface{}) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	var body interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.session.Clear()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusText := http.StatusText(resp.StatusCode)
		return &Error{
			StatusCode: resp.StatusCode,
			StatusText: statusText,
			URL:        resp.Request.URL.String(),
			Header:     resp.Header,
			Body:       body,
			message:    errorMessage(body, statusText),
		}
	}

	if out != nil && len(raw) != 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("could not unmarshal response body: %w", err)
		}
	}
	return nil
}

// Login exchanges a username for a session payload. Only the dev login
// flow; the OAuth flow completes through AuthUserWithToken.
func (c *Client) Login(ctx context.Context, username string) (models.LoginPayload, error) {
	var out models.LoginPayload
	err := c.Post(ctx, "/api/login", map[string]string{"username": username}, nil, &out)
	return out, err
}

// AuthUserWithToken fetches the user behind a token that is not yet
// persisted, as the OAuth callback completion does.
func (c *Client) AuthUserWithToken(ctx context.Context, token string) (models.User, error) {
	var out models.User
	err := c.Get(ctx, "/api/auth_user", map[string]string{"Authorization": "Bearer " + token}, &out)
	return out, err
}

// Conversations fetches one page of the conversation list, newest first.
// An empty before fetches the first page.
func (c *Client) Conversations(ctx context.Context, before string) ([]models.Conversation, error) {
	path := "/api/conversations"
	if before != "" {
		path += "?before=" + url.QueryEscape(before)
	}
	var out []models.Conversation
	err := c.Get(ctx, path, nil, &out)
	return out, err
}

// CreateConversation starts (or rejoins) a conversation with username.
func (c *Client) CreateConversation(ctx context.Context, username string) (models.Conversation, error) {
	var out models.Conversation
	err := c.Post(ctx, "/api/conversations", map[string]string{"username": username}, nil, &out)
	return out, err
}

// Conversation fetches a single conversation by id.
func (c *Client) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	var out models.Conversation
	err := c.Get(ctx, "/api/conversations/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Messages fetches one page of a conversation's messages, newest first.
func (c *Client) Messages(ctx context.Context, conversationID, before string) ([]models.Message, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if before != "" {
		path += "?before=" + url.QueryEscape(before)
	}
	var out []models.Message
	err := c.Get(ctx, path, nil, &out)
	return out, err
}

// CreateMessage posts a new message. A 422 carries a field-level
// message under "content".
func (c *Client) CreateMessage(ctx context.Context, conversationID, content string) (models.Message, error) {
	var out models.Message
	err := c.Post(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/messages",
		map[string]string{"content": content}, nil, &out)
	return out, err
}

// ReadMessages tells the backend the conversation has been read.
func (c *Client) ReadMessages(ctx context.Context, conversationID string) error {
	return c.Post(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/read_messages", nil, nil, nil)
}

// Usernames searches usernames by prefix for the new-conversation form.
func (c *Client) Usernames(ctx context.Context, search string) ([]string, error) {
	var out []string
	err := c.Get(ctx, "/api/usernames?search="+url.QueryEscape(search), nil, &out)
	return out, err
}
