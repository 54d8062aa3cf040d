package v2

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routeTestCase struct {
	RequestURI   string
	ExpectedVars map[string]string
	RouteName    string
	StatusCode   int
}

func TestRouter(t *testing.T) {
	testCases := []routeTestCase{
		{
			RouteName:  RouteNameBase,
			RequestURI: "/v2/",
		},
		{
			RouteName:  RouteNameManifest,
			RequestURI: "/v2/proj/app/manifests/latest",
			ExpectedVars: map[string]string{
				"name":      "proj/app",
				"reference": "latest",
			},
		},
		{
			RouteName:  RouteNameManifest,
			RequestURI: "/v2/proj/app/manifests/sha256:2d5c5e2a7fd9a8d3d47bb267dbb67e62d64a0124f98dfca0e6b95a6f23ee2fed",
			ExpectedVars: map[string]string{
				"name":      "proj/app",
				"reference": "sha256:2d5c5e2a7fd9a8d3d47bb267dbb67e62d64a0124f98dfca0e6b95a6f23ee2fed",
			},
		},
		{
			RouteName:  RouteNameTags,
			RequestURI: "/v2/proj/app/tags/list",
			ExpectedVars: map[string]string{
				"name": "proj/app",
			},
		},
		{
			RouteName:  RouteNameBlob,
			RequestURI: "/v2/proj/app/blobs/sha256:2d5c5e2a7fd9a8d3d47bb267dbb67e62d64a0124f98dfca0e6b95a6f23ee2fed",
			ExpectedVars: map[string]string{
				"name":   "proj/app",
				"digest": "sha256:2d5c5e2a7fd9a8d3d47bb267dbb67e62d64a0124f98dfca0e6b95a6f23ee2fed",
			},
		},
		{
			RouteName:  RouteNameBlobUpload,
			RequestURI: "/v2/proj/app/blobs/uploads/",
			ExpectedVars: map[string]string{
				"name": "proj/app",
			},
		},
		{
			RouteName:  RouteNameBlobUploadChunk,
			RequestURI: "/v2/proj/app/blobs/uploads/0a8e3f9d-7b37-4d0f-9d6c-2c7e2f2c4f6a",
			ExpectedVars: map[string]string{
				"name": "proj/app",
				"uuid": "0a8e3f9d-7b37-4d0f-9d6c-2c7e2f2c4f6a",
			},
		},
		{
			// single-component names are not repositories
			RouteName:  RouteNameTags,
			RequestURI: "/v2/app/tags/list",
			StatusCode: http.StatusNotFound,
		},
		{
			// deeply nested names work too
			RouteName:  RouteNameTags,
			RequestURI: "/v2/proj/team/app/tags/list",
			ExpectedVars: map[string]string{
				"name": "proj/team/app",
			},
		},
	}

	router := Router()

	for _, tc := range testCases {
		t.Run(tc.RequestURI, func(t *testing.T) {
			var matchedRoute string
			var matchedVars map[string]string

			route := router.GetRoute(tc.RouteName)
			require.NotNil(t, route)

			router.NotFoundHandler = http.HandlerFunc(http.NotFound)
			for _, name := range []string{RouteNameBase, RouteNameManifest, RouteNameTags, RouteNameBlob, RouteNameBlobUpload, RouteNameBlobUploadChunk} {
				name := name
				router.GetRoute(name).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					matchedRoute = name
					matchedVars = mux.Vars(r)
				}))
			}

			req := httptest.NewRequest(http.MethodGet, tc.RequestURI, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if tc.StatusCode == http.StatusNotFound {
				assert.NotEqual(t, tc.RouteName, matchedRoute)
				return
			}

			assert.Equal(t, tc.RouteName, matchedRoute)
			for k, v := range tc.ExpectedVars {
				assert.Equal(t, v, matchedVars[k])
			}
		})
	}
}

func TestRouterWithPrefix(t *testing.T) {
	router := RouterWithPrefix("/registry")

	var matched bool
	router.GetRoute(RouteNameTags).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		matched = true
		assert.Equal(t, "proj/app", mux.Vars(r)["name"])
	}))

	req := httptest.NewRequest(http.MethodGet, "/registry/v2/proj/app/tags/list", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, matched)
}
