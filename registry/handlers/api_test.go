package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(app *App, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()

	var env apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestQueryAPI_MethodNotAllowed(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: true})

	req := httptest.NewRequest(http.MethodGet, "/api/list", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.OK)
	assert.Equal(t, "method not allowed", env.Error.Message)
}

func TestQueryAPI_UnsupportedContentType(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: true})

	req := httptest.NewRequest(http.MethodPost, "/api/list", strings.NewReader("project=p"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.OK)
	assert.Equal(t, "unsupported content type", env.Error.Message)
}

func TestQueryAPI_ProjectRequired(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: true})

	w := postJSON(app, "/api/list", `{}`)

	// business errors are 200s with ok=false
	assert.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.OK)
	assert.Equal(t, "project required", env.Error.Message)
}

func TestQueryAPI_Unauthorized(t *testing.T) {
	authorizer := &stubAuthorizer{grant: false}
	app := newTestApp(authorizer)

	w := postJSON(app, "/api/list", `{"project": "proj"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.OK)
	assert.Equal(t, "api: unauthorized", env.Error.Message)
	assert.Equal(t, "proj", authorizer.project)
	assert.Equal(t, "registry.pull", authorizer.permission)
}

func TestQueryAPI_RepositoryRequired(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: true})

	for _, path := range []string{"/api/get", "/api/getTags", "/api/getManifests"} {
		t.Run(path, func(t *testing.T) {
			w := postJSON(app, path, `{"project": "proj"}`)

			assert.Equal(t, http.StatusOK, w.Code)
			env := decodeEnvelope(t, w)
			assert.False(t, env.OK)
			assert.Equal(t, "repository required", env.Error.Message)
		})
	}
}

func TestQueryAPI_UnknownEndpoint(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: true})

	w := postJSON(app, "/api/unknown", `{"project": "proj"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.OK)
	assert.Equal(t, "not found", env.Error.Message)
}

func TestFormatTime(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*60*60)
	ts := time.Date(2021, 9, 17, 16, 30, 45, 123456789, loc)

	assert.Equal(t, "2021-09-17T09:30:45Z", formatTime(ts))
}
