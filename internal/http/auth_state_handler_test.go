package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routemate/internal/profiles"
)

type stateFrame struct {
	User   *profiles.Profile `json:"user"`
	Claims *struct {
		OrganizationID string `json:"organizationId"`
		Role           string `json:"role"`
		Subject        string `json:"sub"`
	} `json:"claims"`
	Loading bool   `json:"loading"`
	Error   string `json:"error"`
}

func dialState(t *testing.T, s testServer, header http.Header) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/auth/state"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(stateFrame) bool) stateFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame stateFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func isSignedOut(f stateFrame) bool {
	return f.Error == "" && !f.Loading && f.User == nil && f.Claims == nil
}

func TestAuthStateStreamSignInAndOut(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "kari@example.com")
	conn := dialState(t, s, nil)

	readUntil(t, conn, isSignedOut)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "signIn", "token": admin.IDToken}))
	frame := readUntil(t, conn, func(f stateFrame) bool { return f.User != nil })
	require.NotNil(t, frame.Claims)
	assert.False(t, frame.Loading)
	assert.Equal(t, admin.Profile.UID, frame.User.UID)
	assert.Equal(t, admin.Profile.OrganizationID, frame.Claims.OrganizationID)
	assert.Equal(t, "admin", frame.Claims.Role)

	rec := s.do(t, http.MethodPatch, "/api/me", admin.IDToken, map[string]string{"displayName": "Kari N."})
	require.Equal(t, http.StatusOK, rec.Code)
	frame = readUntil(t, conn, func(f stateFrame) bool { return f.User != nil && f.User.DisplayName == "Kari N." })
	assert.Equal(t, "admin", frame.Claims.Role)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "signOut"}))
	readUntil(t, conn, isSignedOut)

	// The stream signed the session out server-side.
	rec = s.do(t, http.MethodGet, "/api/me", admin.IDToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthStateStreamReportsRoleChanges(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "kari@example.com")
	driver := s.invite(t, admin.IDToken, "ola@example.com", "driver")
	conn := dialState(t, s, nil)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "signIn", "token": driver.IDToken}))
	frame := readUntil(t, conn, func(f stateFrame) bool { return f.User != nil })
	assert.Equal(t, "driver", frame.Claims.Role)

	rec := s.do(t, http.MethodPut, "/api/members/"+driver.Profile.UID+"/role", admin.IDToken, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)

	frame = readUntil(t, conn, func(f stateFrame) bool { return f.Claims != nil && f.Claims.Role == "admin" })
	assert.Equal(t, profiles.RoleAdmin, frame.User.Role)
}

func TestAuthStateStreamRejectsBadMessages(t *testing.T) {
	s := newTestServer(t)
	conn := dialState(t, s, nil)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "signIn", "token": "garbage"}))
	frame := readUntil(t, conn, func(f stateFrame) bool { return f.Error != "" })
	assert.Equal(t, "invalid token", frame.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame = readUntil(t, conn, func(f stateFrame) bool { return f.Error != "" })
	assert.Equal(t, "invalid message", frame.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	frame = readUntil(t, conn, func(f stateFrame) bool { return f.Error != "" })
	assert.Equal(t, "unknown message type", frame.Error)
}

func TestAuthStateStreamChecksOrigin(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/auth/state"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://frontend.test"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "http://api.example/api/auth/state", nil)

	assert.True(t, check(req))

	req.Header.Set("Origin", "https://APP.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://api.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://other.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
