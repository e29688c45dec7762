package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/dmchat/internal/auth"
	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/proto"
)

func (s *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/register", "", `{"username":"alice","password":"password123"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var registered auth.Grant
	decodeBody(t, resp, &registered)
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, "alice", registered.Username)
	assert.False(t, registered.Identity.IsAnonymous())

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.TokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "token cookie not set")
	assert.Equal(t, registered.Token, cookie.Value)

	resp = srv.do(t, http.MethodPost, "/api/register", "", `{"username":"alice","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/register", "", `{"username":"al","password":"password123"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/register", "", `{"username":"bob"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/login", "", `{"username":"alice","password":"password123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loggedIn auth.Grant
	decodeBody(t, resp, &loggedIn)
	claims, err := srv.auth.ValidateToken(loggedIn.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, registered.Identity, loggedIn.Identity)

	resp = srv.do(t, http.MethodPost, "/api/login", "", `{"username":"alice","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListUsers(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	aliceToken, _ := srv.register(t, "alice")
	_, bobID := srv.register(t, "bob")
	srv.register(t, "carol")

	srv.router.Presence().SetOnline(ctx, bobID, true)

	resp := srv.do(t, http.MethodGet, "/api/users/", aliceToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var users []proto.User
	decodeBody(t, resp, &users)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[0].Username)
	assert.True(t, users[0].IsOnline)
	assert.Equal(t, "carol", users[1].Username)
	assert.False(t, users[1].IsOnline)
	assert.Equal(t, "/static/images/profile-icon.png", users[1].ProfilePicture)
}

func TestAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/users", "/api/messages/?receiver=1"} {
		resp := srv.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)

		resp = srv.do(t, http.MethodGet, path, "garbage", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestHistory(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	aliceToken, aliceID := srv.register(t, "alice")
	_, bobID := srv.register(t, "bob")
	_, carolID := srv.register(t, "carol")

	seed := []core.Message{
		{SenderID: aliceID, ReceiverID: bobID, Text: "one"},
		{SenderID: bobID, ReceiverID: aliceID, Text: "two"},
		{SenderID: carolID, ReceiverID: aliceID, Text: "not in this conversation"},
		{SenderID: aliceID, ReceiverID: bobID, Text: "three"},
	}
	for i := range seed {
		require.NoError(t, srv.gateway.Create(ctx, &seed[i]))
	}

	resp := srv.do(t, http.MethodGet, fmt.Sprintf("/api/messages/?receiver=%d", bobID), aliceToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []proto.HistoryMessage
	decodeBody(t, resp, &history)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "alice", history[0].Sender)
	assert.Equal(t, "two", history[1].Content)
	assert.Equal(t, "bob", history[1].Sender)
	assert.Equal(t, int64(aliceID), history[1].ReceiverID)
	assert.Equal(t, "three", history[2].Content)
}

func TestHistoryErrors(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := srv.register(t, "alice")

	tests := []struct {
		name   string
		query  string
		status int
		error  string
	}{
		{name: "missing receiver", query: "", status: http.StatusBadRequest, error: "Receiver ID is required"},
		{name: "non numeric receiver", query: "?receiver=abc", status: http.StatusBadRequest, error: "invalid receiver id"},
		{name: "unknown receiver", query: "?receiver=999", status: http.StatusNotFound, error: "Receiver not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, http.MethodGet, "/api/messages/"+tt.query, aliceToken, "")
			require.Equal(t, tt.status, resp.StatusCode)
			var body ErrorResponse
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.error, body.Error)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	srv.do(t, http.MethodGet, "/health", "", "")

	resp := srv.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dmchat_active_sessions")
	assert.Contains(t, string(body), `dmchat_http_request_duration_seconds_count{method="GET",path="/health",status_code="200"}`)
}
