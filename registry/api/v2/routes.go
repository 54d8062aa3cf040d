// Package v2 describes the HTTP routes and error codes of the container image API. Route names
// let handler dispatch, URL building and tests all share one table.
package v2

import "github.com/gorilla/mux"

// Route names, used to dispatch and to build URLs.
const (
	RouteNameBase            = "base"
	RouteNameManifest        = "manifest"
	RouteNameTags            = "tags"
	RouteNameBlob            = "blob"
	RouteNameBlobUpload      = "blob-upload"
	RouteNameBlobUploadChunk = "blob-upload-chunk"
)

// Router builds a gorilla/mux router with registered routes for the API. A route is registered for
// each descriptor.
func Router() *mux.Router {
	return RouterWithPrefix("")
}

// RouterWithPrefix builds a gorilla/mux router with the API routes mounted under prefix.
func RouterWithPrefix(prefix string) *mux.Router {
	rootRouter := mux.NewRouter()
	router := rootRouter
	if prefix != "" {
		router = router.PathPrefix(prefix).Subrouter()
	}

	router.StrictSlash(true)

	for _, descriptor := range routeDescriptors {
		router.Path(descriptor.Path).Name(descriptor.Name)
	}

	return rootRouter
}

type routeDescriptor struct {
	Name string
	Path string
}

var (
	// nameParam matches two-level repository names: a project namespace and a repository within
	// it, each a lowercase alphanumeric run with dot, dash or underscore separators.
	nameComponent = `[a-z0-9]+(?:[._-][a-z0-9]+)*`
	nameParam     = `{name:` + nameComponent + `(?:/` + nameComponent + `)+}`

	// referenceParam matches either a tag or a digest.
	referenceParam = `{reference:[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}|[a-zA-Z0-9-_+.]+:[a-fA-F0-9]+}`

	digestParam = `{digest:[a-zA-Z0-9-_+.]+:[a-fA-F0-9]+}`

	uuidParam = `{uuid:[a-zA-Z0-9-_.=]+}`
)

// routeDescriptors is the route table. Order matters: the most specific paths come first so mux
// does not shadow them with parameterized routes.
var routeDescriptors = []routeDescriptor{
	{
		Name: RouteNameBase,
		Path: "/v2/",
	},
	{
		Name: RouteNameManifest,
		Path: "/v2/" + nameParam + "/manifests/" + referenceParam,
	},
	{
		Name: RouteNameTags,
		Path: "/v2/" + nameParam + "/tags/list",
	},
	{
		Name: RouteNameBlob,
		Path: "/v2/" + nameParam + "/blobs/" + digestParam,
	},
	{
		Name: RouteNameBlobUpload,
		Path: "/v2/" + nameParam + "/blobs/uploads/",
	},
	{
		Name: RouteNameBlobUploadChunk,
		Path: "/v2/" + nameParam + "/blobs/uploads/" + uuidParam,
	},
}
