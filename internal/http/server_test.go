package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"routemate/internal/auth"
	"routemate/internal/config"
	"routemate/internal/locations"
	"routemate/internal/onboarding"
	"routemate/internal/profiles"
	"routemate/internal/storage/local"
)

type testServer struct {
	handler  http.Handler
	auth     *auth.Service
	profiles *profiles.InMemoryRepository
	deps     Dependencies
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		Environment:        "development",
		AllowedOrigins:     []string{"http://frontend.test"},
		PublicBaseURL:      "http://api.test",
		FrontendURL:        "http://frontend.test",
		MaxImageBytes:      64 << 10,
		ProfileWaitTimeout: 2 * time.Second,
		ClaimsTimeout:      2 * time.Second,
	}
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	cfg := testConfig()
	logger := discardLogger()

	authSvc := auth.NewService(
		auth.NewInMemoryRepository(),
		auth.NewTokenIssuer("http-test-secret", time.Hour, clockwork.NewRealClock()),
		auth.WithBcryptCost(bcrypt.MinCost),
	)
	profileRepo := profiles.NewInMemoryRepository()
	objects, err := local.New(t.TempDir(), cfg.PublicBaseURL)
	require.NoError(t, err)

	deps := Dependencies{
		Config:     cfg,
		Auth:       authSvc,
		Profiles:   profiles.NewService(profileRepo),
		Onboarding: onboarding.NewService(authSvc, profileRepo, onboarding.NewInMemoryRepository(), onboarding.WithBaseURL(cfg.FrontendURL)),
		Locations:  locations.NewService(locations.NewInMemoryRepository(nil), objects, locations.WithMaxImageBytes(cfg.MaxImageBytes)),
		Logger:     logger,
	}
	return testServer{handler: NewRouter(deps), auth: authSvc, profiles: profileRepo, deps: deps}
}

func (s testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// register creates an organization and returns the admin's ID token.
func (s testServer) register(t *testing.T, email string) sessionResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":             "Kari Nordmann",
		"organizationName": "Nordmann Transport",
		"email":            email,
		"password":         "hunter22",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp sessionResponse
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.IDToken)
	return resp
}

// invite creates an invitation as admin and accepts it, returning the new
// member's session.
func (s testServer) invite(t *testing.T, adminToken, email, role string) sessionResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/invitations", adminToken, map[string]string{
		"email":       email,
		"role":        role,
		"displayName": "Ola",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Link string `json:"link"`
	}
	decode(t, rec, &created)
	token := created.Link[strings.LastIndex(created.Link, "/")+1:]

	rec = s.do(t, http.MethodPost, "/api/invitations/"+token+"/accept", "", map[string]string{"password": "driver123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp sessionResponse
	decode(t, rec, &resp)
	return resp
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}
