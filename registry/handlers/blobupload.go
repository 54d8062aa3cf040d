package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"

	v2 "github.com/deploys-app/registry/registry/api/v2"
	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/datastore/models"
	"github.com/deploys-app/registry/registry/storage"
)

// blobUploadDispatcher constructs and returns the blob upload handler for the given request
// context.
func blobUploadDispatcher(ctx *Context, r *http.Request) http.Handler {
	buh := &blobUploadHandler{
		Context: ctx,
		UUID:    mux.Vars(r)["uuid"],
	}

	return handlers.MethodHandler{
		http.MethodPost:   http.HandlerFunc(buh.StartBlobUpload),
		http.MethodGet:    http.HandlerFunc(buh.GetUploadStatus),
		http.MethodHead:   http.HandlerFunc(buh.GetUploadStatus),
		http.MethodPatch:  http.HandlerFunc(buh.PatchBlobData),
		http.MethodPut:    http.HandlerFunc(buh.PutBlobUploadComplete),
		http.MethodDelete: http.HandlerFunc(buh.CancelBlobUpload),
	}
}

// blobUploadHandler handles the http blob upload process.
type blobUploadHandler struct {
	*Context

	// UUID identifies the upload session, from the URL.
	UUID string
}

// StartBlobUpload begins the blob upload process. The repository is created on first push. With a
// digest query parameter the whole blob is accepted in this single request; otherwise a session is
// opened and the client streams chunks to it.
func (buh *blobUploadHandler) StartBlobUpload(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	repo, ok := buh.createRepository(c)
	if !ok {
		return
	}

	session, err := buh.uploads.Start(c, buh.Repository)
	if err != nil {
		buh.Errors = append(buh.Errors, errcodeUnknown(err))
		return
	}

	if dgstStr := r.URL.Query().Get("digest"); dgstStr != "" {
		buh.finishUpload(w, r, repo, session.ID, 0, dgstStr)
		return
	}

	w.Header().Set("Docker-Upload-UUID", session.ID)
	w.Header().Set("Location", buh.uploadURL(session.ID))
	w.Header().Set("Range", "0-0")
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}

// GetUploadStatus returns the status of a given upload, identified by id.
func (buh *blobUploadHandler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	session, err := buh.uploads.Status(c, buh.Repository, buh.UUID)
	if err != nil {
		buh.uploadError(err)
		return
	}

	w.Header().Set("Docker-Upload-UUID", session.ID)
	w.Header().Set("Range", rangeHeader(session.ReceivedBytes))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNoContent)
}

// PatchBlobData writes data to an upload. The chunk must continue from the session's committed
// offset: out of order chunks are rejected with the offset the client should resume from, and the
// session keeps its prior state.
func (buh *blobUploadHandler) PatchBlobData(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	start, ok := buh.chunkStart(c, r)
	if !ok {
		return
	}

	offset, err := buh.uploads.Append(c, buh.Repository, buh.UUID, start, r.Body)
	if err != nil {
		buh.uploadError(err)
		return
	}

	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.Header().Set("Location", buh.uploadURL(buh.UUID))
	w.Header().Set("Range", rangeHeader(offset))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}

// PutBlobUploadComplete takes the final request of a blob upload. The request may include all the
// blob data or no data, but the digest query parameter is required.
func (buh *blobUploadHandler) PutBlobUploadComplete(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	repo, ok := buh.repository(c)
	if !ok {
		return
	}

	dgstStr := r.URL.Query().Get("digest")
	if dgstStr == "" {
		buh.Errors = append(buh.Errors, v2.ErrorCodeDigestInvalid.WithMessage("digest parameter missing"))
		return
	}

	start, ok := buh.chunkStart(c, r)
	if !ok {
		return
	}

	buh.finishUpload(w, r, repo, buh.UUID, start, dgstStr)
}

// CancelBlobUpload cancels an in-progress upload of a blob.
func (buh *blobUploadHandler) CancelBlobUpload(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	if err := buh.uploads.Cancel(c, buh.Repository, buh.UUID); err != nil {
		buh.Errors = append(buh.Errors, errcodeUnknown(err))
		return
	}

	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNoContent)
}

// chunkStart determines the offset the request's body starts at: from Content-Range when sent,
// otherwise the session's committed offset. Concurrent writers are sorted out by the session
// store's conditional advance, not here.
func (buh *blobUploadHandler) chunkStart(c context.Context, r *http.Request) (int64, bool) {
	start, _, ok, err := parseContentRange(r)
	if err != nil {
		buh.Errors = append(buh.Errors, v2.ErrorCodeBlobUploadInvalid.WithDetail(err.Error()))
		return 0, false
	}
	if ok {
		return start, true
	}

	session, err := buh.uploads.Status(c, buh.Repository, buh.UUID)
	if err != nil {
		buh.uploadError(err)
		return 0, false
	}
	return session.ReceivedBytes, true
}

// finishUpload finalizes the session against the declared digest and records the blob in the
// repository. The object lands in the blob store before the metadata row is written, so a row
// never points at missing data.
func (buh *blobUploadHandler) finishUpload(w http.ResponseWriter, r *http.Request, repo *models.Repository, id string, start int64, dgstStr string) {
	c := r.Context()

	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, v2.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		return
	}

	size, err := buh.uploads.Finalize(c, buh.Repository, id, start, r.Body, dgst)
	if err != nil {
		buh.uploadError(err)
		return
	}

	blob := &models.Blob{
		RepositoryID: repo.ID,
		Digest:       dgst,
		Size:         size,
	}
	if err := datastore.NewBlobStore(buh.db).CreateOrFind(c, blob); err != nil {
		buh.Errors = append(buh.Errors, errcodeUnknown(err))
		return
	}

	w.Header().Set("Location", buh.blobURL(dgst))
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusCreated)
}

// uploadError translates upload manager errors into wire errors.
func (buh *blobUploadHandler) uploadError(err error) {
	var rangeErr storage.InvalidRangeError
	var digestErr storage.DigestMismatchError

	switch {
	case errors.Is(err, storage.ErrUploadUnknown):
		buh.Errors = append(buh.Errors, v2.ErrorCodeBlobUploadUnknown)
	case errors.As(err, &rangeErr):
		// the detail carries the current offset so the client can resume
		buh.Errors = append(buh.Errors, v2.ErrorCodeBlobUploadInvalid.WithDetail(map[string]string{
			"range": rangeHeader(rangeErr.Offset),
		}))
	case errors.As(err, &digestErr):
		buh.Errors = append(buh.Errors, v2.ErrorCodeDigestInvalid.WithDetail(map[string]string{
			"expected": digestErr.Expected.String(),
			"actual":   digestErr.Actual.String(),
		}))
	default:
		buh.Errors = append(buh.Errors, errcodeUnknown(err))
	}
}
