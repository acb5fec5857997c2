package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routemate/internal/auth"
)

func encodeOAuthState(state, redirectTo string) string {
	payload := oauthStatePayload{State: state, RedirectTo: redirectTo}
	data, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(data)
}

type fakeGoogleAuthenticator struct {
	authURLBase    string
	lastState      string
	exchangeClaims *auth.GoogleClaims
	exchangeErr    error
	allowEmail     bool
}

func (f *fakeGoogleAuthenticator) AuthURL(state string) string {
	f.lastState = state
	if f.authURLBase == "" {
		f.authURLBase = "https://accounts.google.com/auth?state="
	}
	return f.authURLBase + state
}

func (f *fakeGoogleAuthenticator) Exchange(_ context.Context, _ string) (*auth.GoogleClaims, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeClaims, nil
}

func (f *fakeGoogleAuthenticator) IsEmailAllowed(string) bool {
	return f.allowEmail
}

func newOAuthHandler(t *testing.T, google *fakeGoogleAuthenticator) (*OAuthHandler, testServer) {
	t.Helper()
	s := newTestServer(t)
	return NewOAuthHandler(google, s.auth, "http://frontend.test", "development", discardLogger()), s
}

func callback(h *OAuthHandler, cookieState, state, query string) *httptest.ResponseRecorder {
	target := "/api/auth/google/callback?state=" + url.QueryEscape(state)
	if query != "" {
		target += "&" + query
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookieName, Value: cookieState})
	}
	rec := httptest.NewRecorder()
	h.CallbackGoogle(rec, req)
	return rec
}

func TestOAuthInitiateGoogleSetsStateCookieAndRedirects(t *testing.T) {
	google := &fakeGoogleAuthenticator{allowEmail: true}
	handler, _ := newOAuthHandler(t, google)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google?redirectTo=/locations", nil)
	rec := httptest.NewRecorder()
	handler.InitiateGoogle(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == oauthStateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	require.NotEmpty(t, stateCookie.Value)

	stateBytes, err := base64.RawURLEncoding.DecodeString(google.lastState)
	require.NoError(t, err)
	var payload oauthStatePayload
	require.NoError(t, json.Unmarshal(stateBytes, &payload))
	assert.Equal(t, stateCookie.Value, payload.State)
	assert.Equal(t, "/locations", payload.RedirectTo)
	assert.Equal(t, google.authURLBase+google.lastState, rec.Header().Get("Location"))
}

func TestOAuthCallbackRejections(t *testing.T) {
	tests := []struct {
		name        string
		google      *fakeGoogleAuthenticator
		cookieState string
		state       string
		query       string
		wantError   string
	}{
		{"missing cookie", &fakeGoogleAuthenticator{}, "", "abc", "", "invalid_request"},
		{"bad encoding", &fakeGoogleAuthenticator{}, "abc", "%%%", "", "invalid_request"},
		{"state mismatch", &fakeGoogleAuthenticator{}, "expected", encodeOAuthState("other", ""), "", "invalid_request"},
		{"provider error", &fakeGoogleAuthenticator{}, "abc", encodeOAuthState("abc", ""), "error=access_denied&error_description=Denied", "access_denied"},
		{"missing code", &fakeGoogleAuthenticator{}, "abc", encodeOAuthState("abc", ""), "", "invalid_request"},
		{"exchange failure", &fakeGoogleAuthenticator{exchangeErr: errors.New("boom")}, "abc", encodeOAuthState("abc", ""), "code=123", "exchange_error"},
		{
			"unverified email",
			&fakeGoogleAuthenticator{exchangeClaims: &auth.GoogleClaims{Email: "kari@example.com"}, allowEmail: true},
			"abc", encodeOAuthState("abc", ""), "code=123", "email_not_verified",
		},
		{
			"domain not allowed",
			&fakeGoogleAuthenticator{exchangeClaims: &auth.GoogleClaims{Email: "kari@example.com", EmailVerified: true}},
			"abc", encodeOAuthState("abc", ""), "code=123", "access_denied",
		},
		{
			"no account",
			&fakeGoogleAuthenticator{exchangeClaims: &auth.GoogleClaims{Email: "stranger@example.com", EmailVerified: true}, allowEmail: true},
			"abc", encodeOAuthState("abc", ""), "code=123", "no_account",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := newOAuthHandler(t, tt.google)
			rec := callback(handler, tt.cookieState, tt.state, tt.query)
			require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
			assert.Contains(t, rec.Header().Get("Location"), "/login?error="+tt.wantError)
		})
	}
}

func TestOAuthCallbackSignsInExistingMember(t *testing.T) {
	google := &fakeGoogleAuthenticator{
		exchangeClaims: &auth.GoogleClaims{Email: "kari@example.com", EmailVerified: true, Sub: "sub", Name: "Kari"},
		allowEmail:     true,
	}
	handler, s := newOAuthHandler(t, google)
	reg := s.register(t, "kari@example.com")

	rec := callback(handler, "state123", encodeOAuthState("state123", "/locations"), "code=123")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "frontend.test", location.Host)
	assert.Equal(t, "/locations", location.Path)
	assert.Empty(t, location.RawQuery)

	fragment, err := url.ParseQuery(location.EscapedFragment())
	require.NoError(t, err)
	require.NotEmpty(t, fragment.Get("idToken"))
	assert.NotEmpty(t, fragment.Get("refreshToken"))

	claims, _, err := s.auth.VerifyIDToken(context.Background(), fragment.Get("idToken"))
	require.NoError(t, err)
	assert.Equal(t, reg.Profile.UID, claims.UID())
	assert.Equal(t, "admin", claims.Role)
}

func TestOAuthCallbackSanitizesRedirectTo(t *testing.T) {
	google := &fakeGoogleAuthenticator{
		exchangeClaims: &auth.GoogleClaims{Email: "kari@example.com", EmailVerified: true},
		allowEmail:     true,
	}
	handler, s := newOAuthHandler(t, google)
	s.register(t, "kari@example.com")

	rec := callback(handler, "state123", encodeOAuthState("state123", "https://evil.test"), "code=123")
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "http://frontend.test/#"), rec.Header().Get("Location"))
}

func TestIsValidRedirectPath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		// Valid paths
		{"root", "/", true},
		{"simple path", "/locations", true},
		{"nested path", "/locations/123", true},
		{"path with query", "/locations?q=kiwi", true},
		{"path with fragment", "/locations#photos", true},

		// Invalid - empty
		{"empty string", "", false},

		// Invalid - absolute URLs / open redirect attempts
		{"http URL", "http://evil.com", false},
		{"https URL", "https://evil.com", false},
		{"protocol-relative", "//evil.com", false},
		{"protocol-relative with path", "//evil.com/path", false},

		// Invalid - encoded bypass attempts
		{"encoded double slash", "/%2f%2fevil.com", false},
		{"encoded slash", "/%2fevil.com", false},
		// Note: double-encoded is safe - after one decode it's /%2f%2fevil.com (literal path)
		{"double encoded is safe", "/%252f%252fevil.com", true},

		// Invalid - no leading slash
		{"no leading slash", "locations", false},
		{"relative path", "locations/123", false},

		// Invalid - other schemes
		{"javascript protocol", "javascript:alert(1)", false},
		{"data protocol", "data:text/html,<script>", false},

		// Edge cases
		{"backslash", "\\\\evil.com", false},
		{"mixed slashes", "/\\evil.com", true}, // This is OK - just a weird but safe path
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, isValidRedirectPath(tt.path), tt.path)
		})
	}
}
