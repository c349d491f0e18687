// Package crm talks to the CRM backend's HTTP API. Authentication is
// session-cookie based, so one Client instance carries the login state for
// the lifetime of the app.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 15 * time.Second

// User is the account identity returned by the auth endpoints.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("crm: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("crm: request failed with status %d", e.Status)
}

// Config controls the backend connection.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("crm: creating cookie jar: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		log: log,
	}, nil
}

type authResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Authenticated bool   `json:"authenticated"`
	User          User   `json:"user"`
	Error         string `json:"error"`
}

// Login authenticates with email and password. The session cookie is stored
// on the client and rides along on subsequent requests, including the voice
// websocket handshake when it shares the jar.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	body := map[string]string{"email": email, "password": password}
	resp, err := c.do(ctx, http.MethodPost, "/auth/login", body)
	if err != nil {
		return User{}, err
	}
	c.log.Info().Str("email", resp.User.Email).Msg("logged in")
	return resp.User, nil
}

// Register creates an account. Username is optional; the backend derives one
// from the email when it is empty.
func (c *Client) Register(ctx context.Context, email, password, username string) (User, error) {
	body := map[string]string{"email": email, "password": password}
	if username != "" {
		body["username"] = username
	}
	resp, err := c.do(ctx, http.MethodPost, "/auth/register", body)
	if err != nil {
		return User{}, err
	}
	c.log.Info().Str("email", resp.User.Email).Msg("registered")
	return resp.User, nil
}

// Logout ends the backend session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", nil)
	return err
}

// CheckAuth reports whether the stored session cookie is still valid.
func (c *Client) CheckAuth(ctx context.Context) (bool, User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/check", nil)
	if err != nil {
		return false, User{}, err
	}
	return resp.Authenticated, resp.User, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*authResponse, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("crm: encoding request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("crm: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm: %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	var resp authResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, 1<<20)).Decode(&resp); err != nil {
		if httpResp.StatusCode >= 400 {
			return nil, &APIError{Status: httpResp.StatusCode}
		}
		return nil, fmt.Errorf("crm: decoding response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, &APIError{Status: httpResp.StatusCode, Message: resp.Error}
	}
	return &resp, nil
}
