package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client, server
}

func TestClientLoginSuccess(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if body["email"] != "ada@example.com" || body["password"] != "hunter22" {
			t.Errorf("unexpected credentials: %v", body)
		}

		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "abc123"})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": "Login successful",
			"user":    map[string]any{"id": 7, "username": "ada", "email": "ada@example.com"},
		})
	}))

	user, err := client.Login(context.Background(), "ada@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.ID != 7 || user.Username != "ada" || user.Email != "ada@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestClientSessionCookiePersistsAcrossCalls(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "abc123"})
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "user": map[string]any{"id": 1}})
		case "/auth/check":
			cookie, err := r.Cookie("sessionid")
			if err != nil || cookie.Value != "abc123" {
				_ = json.NewEncoder(w).Encode(map[string]any{"authenticated": false})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"authenticated": true,
				"user":          map[string]any{"id": 1, "username": "ada", "email": "ada@example.com"},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))

	if _, err := client.Login(context.Background(), "ada@example.com", "hunter22"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	ok, user, err := client.CheckAuth(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !ok || user.Username != "ada" {
		t.Fatalf("expected authenticated session, got ok=%v user=%+v", ok, user)
	}
}

func TestClientLoginRejectedSurfacesBackendMessage(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid email or password"})
	}))

	_, err := client.Login(context.Background(), "ada@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Invalid email or password" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestClientRegisterSendsOptionalUsername(t *testing.T) {
	t.Parallel()

	var got map[string]string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/register" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"user":    map[string]any{"id": 2, "username": got["username"], "email": got["email"]},
		})
	}))

	user, err := client.Register(context.Background(), "bob@example.com", "longenough", "bob")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if got["username"] != "bob" {
		t.Fatalf("username was not sent: %v", got)
	}
	if user.Username != "bob" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestClientLogoutWithoutSessionFails(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Not authenticated"})
	}))

	err := client.Logout(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
}

func TestClientCheckAuthUnauthenticated(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"authenticated": false})
	}))

	ok, _, err := client.CheckAuth(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if ok {
		t.Fatalf("expected unauthenticated")
	}
}

func TestClientBackendDown(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, err := NewClient(Config{BaseURL: server.URL}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if _, err := client.Login(context.Background(), "a@b.c", "pw"); err == nil {
		t.Fatalf("expected connection error")
	}
}
