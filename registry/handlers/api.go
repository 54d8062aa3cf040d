package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/deploys-app/registry/registry/auth"
	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/datastore/models"
)

// The query API is a JSON-over-POST surface for control planes and dashboards: repository
// listings, sizes, tags and manifests, without speaking the image protocol. Responses always use
// the `{ok, result}` / `{ok, error}` envelope; business failures are 200s with ok=false, protocol
// misuse is a 400 with the same envelope.

func (app *App) registerQueryAPI() {
	api := app.router.PathPrefix("/api/").Subrouter()

	api.Handle("/list", app.queryHandler(app.apiList))
	api.Handle("/get", app.queryHandler(app.apiGet))
	api.Handle("/getTags", app.queryHandler(app.apiGetTags))
	api.Handle("/getManifests", app.queryHandler(app.apiGetManifests))

	api.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiProtocolError(w, http.StatusBadRequest, "not found")
	})
}

type apiRequest struct {
	Project    string `json:"project"`
	Repository string `json:"repository"`
}

type apiEnvelope struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

// queryHandler enforces the query API protocol (POST, JSON body, authorized project) and hands the
// decoded request to fn.
func (app *App) queryHandler(fn func(w http.ResponseWriter, r *http.Request, req *apiRequest)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			apiProtocolError(w, http.StatusBadRequest, "method not allowed")
			return
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			apiProtocolError(w, http.StatusBadRequest, "unsupported content type")
			return
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apiProtocolError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.Project == "" {
			apiRespondError(w, "project required")
			return
		}

		credential := r.Header.Get("Authorization")
		granted, err := app.authorizer.Authorized(r.Context(), credential, req.Project, auth.PermissionPull)
		if err != nil {
			app.log.WithError(err).Error("api auth check failed")
			apiRespondError(w, "api: unauthorized")
			return
		}
		if !granted {
			apiRespondError(w, "api: unauthorized")
			return
		}

		fn(w, r, &req)
	})
}

func (app *App) apiList(w http.ResponseWriter, r *http.Request, req *apiRequest) {
	repos, err := datastore.NewRepositoryStore(app.db).FindAllByNamespace(r.Context(), req.Project)
	if err != nil {
		app.log.WithError(err).Error("api list failed")
		apiRespondError(w, "internal error")
		return
	}

	type item struct {
		Name      string `json:"name"`
		CreatedAt string `json:"createdAt"`
	}
	items := make([]item, 0, len(repos))
	for _, repo := range repos {
		items = append(items, item{
			Name:      strings.TrimPrefix(repo.Name, req.Project+"/"),
			CreatedAt: formatTime(repo.CreatedAt),
		})
	}

	apiRespondOK(w, map[string]interface{}{"items": items})
}

func (app *App) apiGet(w http.ResponseWriter, r *http.Request, req *apiRequest) {
	repo, ok := app.apiRepository(w, r, req)
	if !ok {
		return
	}

	size, err := datastore.NewRepositoryStore(app.db).BlobsSize(r.Context(), repo)
	if err != nil {
		app.log.WithError(err).Error("api get failed")
		apiRespondError(w, "internal error")
		return
	}

	apiRespondOK(w, map[string]interface{}{
		"name":      strings.TrimPrefix(repo.Name, req.Project+"/"),
		"size":      size,
		"createdAt": formatTime(repo.CreatedAt),
	})
}

func (app *App) apiGetTags(w http.ResponseWriter, r *http.Request, req *apiRequest) {
	repo, ok := app.apiRepository(w, r, req)
	if !ok {
		return
	}

	tags, err := datastore.NewTagStore(app.db).FindAll(r.Context(), repo)
	if err != nil {
		app.log.WithError(err).Error("api getTags failed")
		apiRespondError(w, "internal error")
		return
	}

	type item struct {
		Tag       string `json:"tag"`
		Digest    string `json:"digest"`
		CreatedAt string `json:"createdAt"`
	}
	items := make([]item, 0, len(tags))
	for _, t := range tags {
		items = append(items, item{
			Tag:       t.Name,
			Digest:    t.Digest.String(),
			CreatedAt: formatTime(t.CreatedAt),
		})
	}

	apiRespondOK(w, map[string]interface{}{
		"name":  strings.TrimPrefix(repo.Name, req.Project+"/"),
		"items": items,
	})
}

func (app *App) apiGetManifests(w http.ResponseWriter, r *http.Request, req *apiRequest) {
	repo, ok := app.apiRepository(w, r, req)
	if !ok {
		return
	}

	manifests, err := datastore.NewManifestStore(app.db).FindAll(r.Context(), repo)
	if err != nil {
		app.log.WithError(err).Error("api getManifests failed")
		apiRespondError(w, "internal error")
		return
	}

	type item struct {
		Digest    string `json:"digest"`
		CreatedAt string `json:"createdAt"`
	}
	items := make([]item, 0, len(manifests))
	for _, m := range manifests {
		items = append(items, item{
			Digest:    m.Digest.String(),
			CreatedAt: formatTime(m.CreatedAt),
		})
	}

	apiRespondOK(w, map[string]interface{}{
		"name":  strings.TrimPrefix(repo.Name, req.Project+"/"),
		"items": items,
	})
}

// apiRepository resolves the repository named by a query request within its project.
func (app *App) apiRepository(w http.ResponseWriter, r *http.Request, req *apiRequest) (*models.Repository, bool) {
	if req.Repository == "" {
		apiRespondError(w, "repository required")
		return nil, false
	}

	repo, err := datastore.NewRepositoryStore(app.db).FindByName(r.Context(), req.Project+"/"+req.Repository)
	if err != nil {
		app.log.WithError(err).Error("api repository lookup failed")
		apiRespondError(w, "internal error")
		return nil, false
	}
	if repo == nil || repo.Namespace != req.Project {
		apiRespondError(w, "repository not found")
		return nil, false
	}

	return repo, true
}

func apiRespondOK(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiEnvelope{OK: true, Result: result})
}

func apiRespondError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiEnvelope{OK: false, Error: &apiError{Message: message}})
}

func apiProtocolError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{OK: false, Error: &apiError{Message: message}})
}

// formatTime renders timestamps the way the query API's clients expect: RFC3339 UTC with second
// precision.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
