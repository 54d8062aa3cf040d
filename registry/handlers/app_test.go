package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploys-app/registry/configuration"
	"github.com/deploys-app/registry/registry/api/errcode"
	"github.com/deploys-app/registry/registry/storage/driver/inmemory"
)

// stubAuthorizer grants or denies everything, recording what was asked.
type stubAuthorizer struct {
	grant bool

	project    string
	permission string
	identified bool
}

func (a *stubAuthorizer) Authorized(ctx context.Context, credential, project, permission string) (bool, error) {
	a.project = project
	a.permission = permission
	return a.grant && credential != "", nil
}

func (a *stubAuthorizer) Identify(ctx context.Context, credential string) (bool, error) {
	a.identified = true
	return a.grant && credential != "", nil
}

func newTestApp(authorizer *stubAuthorizer) *App {
	config := &configuration.Configuration{}
	config.Auth.Realm = "registry.test"

	return NewApp(config, nil, inmemory.New(), authorizer, nil)
}

func TestApp_VersionCheck(t *testing.T) {
	authorizer := &stubAuthorizer{grant: true}
	app := newTestApp(authorizer)

	req := httptest.NewRequest(http.MethodGet, "/v2/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())
	assert.True(t, authorizer.identified)
}

func TestApp_VersionCheckUnauthorized(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: false})

	req := httptest.NewRequest(http.MethodGet, "/v2/", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="registry.test"`, w.Header().Get("WWW-Authenticate"))

	var errs errcode.Errors
	require.NoError(t, errs.UnmarshalJSON(w.Body.Bytes()))
	require.Equal(t, 1, errs.Len())
	assert.Equal(t, errcode.ErrorCodeUnauthorized, errs[0].(errcode.ErrorCoder).ErrorCode())
}

func TestApp_RepositoryRouteChecksProjectPermission(t *testing.T) {
	authorizer := &stubAuthorizer{grant: false}
	app := newTestApp(authorizer)

	req := httptest.NewRequest(http.MethodGet, "/v2/proj/app/tags/list", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "proj", authorizer.project)
	assert.Equal(t, "registry.pull", authorizer.permission)
}

func TestApp_WriteMethodsNeedPush(t *testing.T) {
	authorizer := &stubAuthorizer{grant: false}
	app := newTestApp(authorizer)

	req := httptest.NewRequest(http.MethodPost, "/v2/proj/app/blobs/uploads/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "registry.push", authorizer.permission)
}

func TestApp_LandingPage(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: false})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	// landing page needs no auth
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.String())
}

func TestApp_UnknownPath(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: true})

	req := httptest.NewRequest(http.MethodGet, "/nothing/here", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApp_InvalidDigestRejected(t *testing.T) {
	app := newTestApp(&stubAuthorizer{grant: true})

	req := httptest.NewRequest(http.MethodGet, "/v2/proj/app/blobs/sha256:zzzz", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	// the route does not match a malformed digest at all
	assert.Equal(t, http.StatusNotFound, w.Code)
}
