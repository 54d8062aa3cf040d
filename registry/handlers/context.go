package handlers

import (
	"context"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/deploys-app/registry/registry/api/errcode"
	v2 "github.com/deploys-app/registry/registry/api/v2"
	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/datastore/models"
)

// Context carries the per-request state shared between the dispatcher and the resource handlers.
type Context struct {
	*App

	// Repository is the repository name from the URL, `<project>/<rest>`.
	Repository string

	// Errors collects errors the handler ran into; the dispatcher serializes them after the
	// handler returns.
	Errors errcode.Errors

	log *logrus.Entry
}

// repository resolves the request's repository row. A false return means the appropriate error was
// already appended.
func (ctx *Context) repository(c context.Context) (*models.Repository, bool) {
	repo, err := datastore.NewRepositoryStore(ctx.db).FindByName(c, ctx.Repository)
	if err != nil {
		ctx.Errors = append(ctx.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return nil, false
	}
	if repo == nil {
		ctx.Errors = append(ctx.Errors, v2.ErrorCodeNameUnknown.WithDetail(map[string]string{"name": ctx.Repository}))
		return nil, false
	}
	return repo, true
}

// createRepository resolves the request's repository row, creating it if this is the first push.
func (ctx *Context) createRepository(c context.Context) (*models.Repository, bool) {
	namespace, _, ok := datastore.SplitName(ctx.Repository)
	if !ok {
		ctx.Errors = append(ctx.Errors, v2.ErrorCodeNameInvalid)
		return nil, false
	}

	repo := &models.Repository{Namespace: namespace, Name: ctx.Repository}
	if err := datastore.NewRepositoryStore(ctx.db).CreateOrFind(c, repo); err != nil {
		ctx.Errors = append(ctx.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return nil, false
	}
	return repo, true
}

// Route regexps keep repository names, digests and session ids URL-safe, so paths are assembled
// without escaping.

func (ctx *Context) blobURL(dgst digest.Digest) string {
	return ctx.Config.HTTP.Prefix + "/v2/" + ctx.Repository + "/blobs/" + dgst.String()
}

func (ctx *Context) uploadURL(id string) string {
	return ctx.Config.HTTP.Prefix + "/v2/" + ctx.Repository + "/blobs/uploads/" + id
}

func (ctx *Context) manifestURL(reference string) string {
	return ctx.Config.HTTP.Prefix + "/v2/" + ctx.Repository + "/manifests/" + reference
}
