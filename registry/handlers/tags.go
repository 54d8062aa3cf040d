package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/handlers"

	v2 "github.com/deploys-app/registry/registry/api/v2"
	"github.com/deploys-app/registry/registry/datastore"
)

// tagsDispatcher constructs the tags handler api endpoint.
func tagsDispatcher(ctx *Context, r *http.Request) http.Handler {
	tagsHandler := &tagsHandler{
		Context: ctx,
	}

	return handlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(tagsHandler.GetTags),
	}
}

// tagsHandler handles requests for lists of tags under a repository name.
type tagsHandler struct {
	*Context
}

type tagsAPIResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// GetTags returns a json list of tags for a specific image name. Names are sorted lexically as
// clients expect; `n` and `last` paginate.
func (th *tagsHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	repo, ok := th.repository(c)
	if !ok {
		return
	}

	tags, err := datastore.NewTagStore(th.db).FindAll(c, repo)
	if err != nil {
		th.Errors = append(th.Errors, errcodeUnknown(err))
		return
	}

	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	sort.Strings(names)

	if last := r.URL.Query().Get("last"); last != "" {
		i := sort.SearchStrings(names, last)
		if i < len(names) && names[i] == last {
			i++
		}
		names = names[i:]
	}

	if nStr := r.URL.Query().Get("n"); nStr != "" {
		n, err := strconv.Atoi(nStr)
		if err != nil || n < 0 {
			th.Errors = append(th.Errors, v2.ErrorCodePaginationNumberInvalid.WithDetail(map[string]string{"n": nStr}))
			return
		}
		if n < len(names) {
			names = names[:n]
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	enc := json.NewEncoder(w)
	if err := enc.Encode(tagsAPIResponse{
		Name: th.Repository,
		Tags: names,
	}); err != nil {
		th.Errors = append(th.Errors, errcodeUnknown(err))
		return
	}
}
