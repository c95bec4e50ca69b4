// Package api wraps the room server's REST surface: accounts, conversation
// management and settings. The streaming protocol lives in internal/room;
// everything here is plain request/response.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/rs/zerolog"
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL string        // e.g. "http://127.0.0.1:8081"
	Timeout time.Duration // HTTP request timeout
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://127.0.0.1:8081",
		Timeout: 15 * time.Second,
	}
}

// Client talks to the room server's REST endpoints. The session cookie set by
// Login rides along automatically through the cookie jar.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a REST client.
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		logger: logger.With().Str("component", "api-client").Logger(),
	}
}

// Conversation is one stored chat session.
type Conversation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserInfo describes the logged-in account.
type UserInfo struct {
	ID       string `json:"id"`
	UserName string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Settings is the server-side configuration exposed to clients.
type Settings struct {
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model,omitempty"`
}

type credentials struct {
	UserName string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates and stores the session cookie for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*UserInfo, error) {
	var info UserInfo
	if err := c.post(ctx, "/api/login", credentials{UserName: username, Password: password}, &info); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.logger.Info().Str("user", info.UserName).Msg("Logged in")
	return &info, nil
}

// Register creates an account and logs it in.
func (c *Client) Register(ctx context.Context, username, password string) (*UserInfo, error) {
	var info UserInfo
	if err := c.post(ctx, "/api/register", credentials{UserName: username, Password: password}, &info); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &info, nil
}

// UserInfo fetches the current account.
func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	var info UserInfo
	if err := c.get(ctx, "/api/user", &info); err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	return &info, nil
}

// Conversations lists the stored sessions, newest first.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.get(ctx, "/api/conversations", &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// CreateConversation starts a new session with the given display name.
func (c *Client) CreateConversation(ctx context.Context, name string) (*Conversation, error) {
	var conv Conversation
	body := map[string]string{"name": name}
	if err := c.post(ctx, "/api/conversations", body, &conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

// RenameConversation updates a session's display name.
func (c *Client) RenameConversation(ctx context.Context, id, name string) error {
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPut, "/api/conversations/"+id, body, nil); err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a session.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/conversations/"+id, nil, nil); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Settings fetches the server settings, including the available model list.
func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	var s Settings
	if err := c.get(ctx, "/api/settings", &s); err != nil {
		return nil, fmt.Errorf("fetch settings: %w", err)
	}
	return &s, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d - %s", method, path, resp.StatusCode, truncateForLog(string(data), 200))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
