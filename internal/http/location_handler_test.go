package http

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routemate/internal/locations"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

type locationEnvelope struct {
	Location locations.Location `json:"location"`
}

func (s testServer) createLocation(t *testing.T, token, name string) locations.Location {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/locations", token, map[string]string{
		"name":         name,
		"address":      "Storgata 1, Oslo",
		"accessNotes":  "Ring the bell",
		"openingHours": "07-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env locationEnvelope
	decode(t, rec, &env)
	return env.Location
}

func (s testServer) upload(t *testing.T, token, locationID string, content []byte, caption string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "dock.png")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("caption", caption))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/locations/"+locationID+"/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestLocationCRUD(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "kari@example.com")

	loc := s.createLocation(t, admin.IDToken, "Rema 1000 Grünerløkka")
	assert.Equal(t, admin.Profile.OrganizationID, loc.OrganizationID)
	assert.Equal(t, "Kari Nordmann", loc.CreatedBy.Name)
	assert.Empty(t, loc.Images)

	rec := s.do(t, http.MethodGet, "/api/locations/"+loc.ID.String(), admin.IDToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/locations/"+loc.ID.String(), admin.IDToken, map[string]string{"parkingNotes": "Back yard"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated locationEnvelope
	decode(t, rec, &updated)
	assert.Equal(t, "Back yard", updated.Location.ParkingNotes)
	assert.Equal(t, "Ring the bell", updated.Location.AccessNotes)

	rec = s.do(t, http.MethodPut, "/api/locations/"+loc.ID.String(), admin.IDToken, map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/locations/"+loc.ID.String(), admin.IDToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/locations/"+loc.ID.String(), admin.IDToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/locations/not-a-uuid", admin.IDToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocationListSearchAndLimit(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "kari@example.com")
	s.createLocation(t, admin.IDToken, "Kiwi Majorstuen")
	s.createLocation(t, admin.IDToken, "Meny Bislett")
	s.createLocation(t, admin.IDToken, "Kiwi Torshov")

	var list struct {
		Locations []locations.Location `json:"locations"`
	}
	rec := s.do(t, http.MethodGet, "/api/locations?q=kiwi", admin.IDToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	require.Len(t, list.Locations, 2)
	assert.Equal(t, "Kiwi Torshov", list.Locations[0].Name)

	rec = s.do(t, http.MethodGet, "/api/locations?limit=1", admin.IDToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Len(t, list.Locations, 1)

	rec = s.do(t, http.MethodGet, "/api/locations?limit=abc", admin.IDToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocationsAreScopedToOrganization(t *testing.T) {
	s := newTestServer(t)
	first := s.register(t, "kari@example.com")
	second := s.register(t, "per@example.com")

	loc := s.createLocation(t, first.IDToken, "Coop Extra")

	rec := s.do(t, http.MethodGet, "/api/locations/"+loc.ID.String(), second.IDToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/locations", second.IDToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"locations":[]}`, rec.Body.String())
}

func TestDriverCanEditButNotDeleteLocations(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "kari@example.com")
	driver := s.invite(t, admin.IDToken, "ola@example.com", "driver")
	loc := s.createLocation(t, admin.IDToken, "Bunnpris")

	rec := s.do(t, http.MethodPut, "/api/locations/"+loc.ID.String(), driver.IDToken, map[string]string{"receivingNotes": "Ask for Per"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated locationEnvelope
	decode(t, rec, &updated)
	assert.Equal(t, driver.Profile.UID, updated.Location.LastUpdatedBy.UID)
	assert.Equal(t, admin.Profile.UID, updated.Location.CreatedBy.UID)

	rec = s.do(t, http.MethodDelete, "/api/locations/"+loc.ID.String(), driver.IDToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestImageUploadServeAndRemove(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "kari@example.com")
	loc := s.createLocation(t, admin.IDToken, "Joker Sagene")

	rec := s.upload(t, admin.IDToken, loc.ID.String(), pngBytes, "Loading dock")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env locationEnvelope
	decode(t, rec, &env)
	require.Len(t, env.Location.Images, 1)
	img := env.Location.Images[0]
	assert.Equal(t, "Loading dock", img.Caption)
	assert.True(t, strings.HasPrefix(img.URL, "http://api.test/api/files/locations/"+loc.ID.String()+"/"), img.URL)

	u, err := url.Parse(img.URL)
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, u.Path+"?access_token="+url.QueryEscape(admin.IDToken), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, rec.Body.Bytes())

	other := s.register(t, "per@example.com")
	rec = s.do(t, http.MethodGet, u.Path, other.IDToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/locations/"+loc.ID.String()+"/images/"+img.ID.String(), admin.IDToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &env)
	assert.Empty(t, env.Location.Images)

	rec = s.do(t, http.MethodGet, u.Path, admin.IDToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImageUploadRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "kari@example.com")
	loc := s.createLocation(t, admin.IDToken, "Extra Lambertseter")

	rec := s.upload(t, admin.IDToken, loc.ID.String(), []byte("just some text"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tooBig := append(append([]byte(nil), pngBytes...), bytes.Repeat([]byte{1}, int(s.deps.Config.MaxImageBytes))...)
	rec = s.upload(t, admin.IDToken, loc.ID.String(), tooBig, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/locations/"+loc.ID.String()+"/images", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+admin.IDToken)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocationCSVExportAndImport(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "kari@example.com")
	s.createLocation(t, admin.IDToken, "Kiwi Majorstuen")

	rec := s.do(t, http.MethodGet, "/api/locations/export", admin.IDToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	exported := rec.Body.String()
	assert.Contains(t, exported, "Kiwi Majorstuen")

	other := s.register(t, "per@example.com")
	importCSV := func(token, content string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "locations.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/locations/import", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	rec = importCSV(other.IDToken, exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"imported":1`)

	rec = importCSV(other.IDToken, exported)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"imported":0`)

	rec = importCSV(other.IDToken, "title\nnothing\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	driver := s.invite(t, admin.IDToken, "ola@example.com", "driver")
	rec = importCSV(driver.IDToken, exported)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
