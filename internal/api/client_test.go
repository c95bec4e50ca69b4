package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(&ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, zerolog.Nop())
}

func TestClient_LoginStoresSessionCookie(t *testing.T) {
	var sawCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			assert.Equal(t, "norman", creds["username"])
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123"})
			json.NewEncoder(w).Encode(UserInfo{ID: "u1", UserName: "norman"})
		case "/api/user":
			c, err := r.Cookie("session")
			sawCookie = err == nil && c.Value == "abc123"
			json.NewEncoder(w).Encode(UserInfo{ID: "u1", UserName: "norman"})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	info, err := c.Login(context.Background(), "norman", "secret")
	require.NoError(t, err)
	assert.Equal(t, "norman", info.UserName)

	_, err = c.UserInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, sawCookie, "session cookie must ride along on later calls")
}

func TestClient_ConversationLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/conversations":
			json.NewEncoder(w).Encode([]Conversation{{ID: "c1", Name: "first"}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/conversations":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(Conversation{ID: "c2", Name: body["name"]})
		case r.Method == http.MethodPut && r.URL.Path == "/api/conversations/c2":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/conversations/c2":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx := context.Background()

	convs, err := c.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "first", convs[0].Name)

	created, err := c.CreateConversation(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, "c2", created.ID)
	assert.Equal(t, "second", created.Name)

	require.NoError(t, c.RenameConversation(ctx, "c2", "renamed"))
	require.NoError(t, c.DeleteConversation(ctx, "c2"))
}

func TestClient_Settings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/settings", r.URL.Path)
		json.NewEncoder(w).Encode(Settings{Models: []string{"small", "large"}, DefaultModel: "small"})
	}))
	defer srv.Close()

	s, err := newTestClient(srv).Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"small", "large"}, s.Models)
	assert.Equal(t, "small", s.DefaultModel)
}

func TestClient_ErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Login(context.Background(), "norman", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad credentials")
}
