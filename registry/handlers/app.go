// Package handlers wires the HTTP surface of the registry: the image push/pull API under /v2/ and
// the JSON query API under /api/. Handlers are stateless; every request resolves its state from
// the metadata store and the blob object store, so any replica can serve any request.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/deploys-app/registry/configuration"
	"github.com/deploys-app/registry/registry/api/errcode"
	v2 "github.com/deploys-app/registry/registry/api/v2"
	"github.com/deploys-app/registry/registry/auth"
	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/storage"
	storagedriver "github.com/deploys-app/registry/registry/storage/driver"
)

// App is the registry application. It holds the shared backends and dispatches requests to
// per-resource handlers.
type App struct {
	Config *configuration.Configuration

	router     *mux.Router
	db         *datastore.DB
	driver     storagedriver.StorageDriver
	blobs      *storage.BlobStore
	uploads    *storage.UploadManager
	authorizer auth.Authorizer
	log        *logrus.Entry
}

// NewApp builds the application from its backends and registers all routes.
func NewApp(config *configuration.Configuration, db *datastore.DB, driver storagedriver.StorageDriver, authorizer auth.Authorizer, log *logrus.Entry) *App {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	app := &App{
		Config:     config,
		router:     v2.RouterWithPrefix(config.HTTP.Prefix),
		db:         db,
		driver:     driver,
		blobs:      storage.NewBlobStore(driver),
		uploads:    storage.NewUploadManager(driver, datastore.NewUploadSessionStore(db), log),
		authorizer: authorizer,
		log:        log,
	}

	app.register(v2.RouteNameBase, baseDispatcher)
	app.register(v2.RouteNameManifest, manifestDispatcher)
	app.register(v2.RouteNameTags, tagsDispatcher)
	app.register(v2.RouteNameBlob, blobDispatcher)
	app.register(v2.RouteNameBlobUpload, blobUploadDispatcher)
	app.register(v2.RouteNameBlobUploadChunk, blobUploadDispatcher)

	app.registerQueryAPI()

	app.router.Path("/").Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "container registry")
	})
	app.router.NotFoundHandler = http.HandlerFunc(http.NotFound)

	return app
}

func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app.router.ServeHTTP(w, r)
}

// dispatchFunc takes a request context and builds the appropriate handler for handling the current
// request.
type dispatchFunc func(ctx *Context, r *http.Request) http.Handler

func (app *App) register(routeName string, dispatch dispatchFunc) {
	app.router.Get(routeName).Handler(app.dispatcher(routeName, dispatch))
}

// dispatcher authorizes the request, builds a per-request Context and runs the handler the
// dispatch function selects. Errors the handler appended to the context are serialized afterwards.
func (app *App) dispatcher(routeName string, dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := app.context(r)

		if err := app.authorized(ctx, r, routeName); err != nil {
			w.Header().Set("WWW-Authenticate", auth.Challenge(app.Config.Auth.Realm))
			if err := errcode.ServeJSON(w, err); err != nil {
				ctx.log.WithError(err).Error("error serving error json")
			}
			return
		}

		dispatch(ctx, r).ServeHTTP(w, r)

		if ctx.Errors.Len() > 0 {
			if err := errcode.ServeJSON(w, ctx.Errors); err != nil {
				ctx.log.WithError(err).Error("error serving error json")
			}
			for _, e := range ctx.Errors {
				ctx.log.WithError(e).Warn("request failed")
			}
		}
	})
}

func (app *App) context(r *http.Request) *Context {
	name := mux.Vars(r)["name"]

	log := app.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if name != "" {
		log = log.WithField("repository", name)
	}

	return &Context{
		App:        app,
		Repository: name,
		log:        log,
	}
}

// authorized checks the request's credential against the auth delegate. All failures collapse into
// a 401 with a basic auth challenge; unauthenticated and unauthorized clients are told the same
// thing.
func (app *App) authorized(ctx *Context, r *http.Request, routeName string) error {
	credential := r.Header.Get("Authorization")

	if routeName == v2.RouteNameBase {
		known, err := app.authorizer.Identify(r.Context(), credential)
		if err != nil {
			ctx.log.WithError(err).Error("auth identify failed")
			return errcode.ErrorCodeUnknown
		}
		if !known {
			return errcode.ErrorCodeUnauthorized
		}
		return nil
	}

	namespace, _, ok := datastore.SplitName(ctx.Repository)
	if !ok {
		return v2.ErrorCodeNameInvalid
	}

	granted, err := app.authorizer.Authorized(r.Context(), credential, namespace, auth.PermissionForMethod(r.Method))
	if err != nil {
		ctx.log.WithError(err).Error("auth check failed")
		return errcode.ErrorCodeUnknown
	}
	if !granted {
		return errcode.ErrorCodeUnauthorized
	}

	return nil
}

func baseDispatcher(ctx *Context, r *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Length", "2")
		fmt.Fprint(w, "{}")
	})
}
