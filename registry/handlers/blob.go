package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"

	v2 "github.com/deploys-app/registry/registry/api/v2"
	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/storage"
)

// blobDispatcher takes the request context and builds the appropriate handler for handling blob
// requests.
func blobDispatcher(ctx *Context, r *http.Request) http.Handler {
	dgst, err := digest.Parse(mux.Vars(r)["digest"])
	if err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx.Errors = append(ctx.Errors, v2.ErrorCodeDigestInvalid.WithDetail(err))
		})
	}

	blobHandler := &blobHandler{
		Context: ctx,
		Digest:  dgst,
	}

	return handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(blobHandler.GetBlob),
		http.MethodHead: http.HandlerFunc(blobHandler.GetBlob),
	}
}

// blobHandler serves http blob requests.
type blobHandler struct {
	*Context

	Digest digest.Digest
}

// GetBlob serves a blob's content, or just its headers for HEAD. The blob must be linked in the
// request's repository; content shared with other repositories is invisible unless this repository
// uploaded it too.
func (bh *blobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	repo, ok := bh.repository(c)
	if !ok {
		return
	}

	blob, err := datastore.NewBlobStore(bh.db).FindByDigest(c, repo, bh.Digest)
	if err != nil {
		bh.Errors = append(bh.Errors, errcodeUnknown(err))
		return
	}
	if blob == nil {
		bh.Errors = append(bh.Errors, v2.ErrorCodeBlobUnknown.WithDetail(map[string]string{"digest": bh.Digest.String()}))
		return
	}

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
		w.Header().Set("Docker-Content-Digest", blob.Digest.String())
		return
	}

	// open the reader before writing headers, so a lost object serves an error payload under
	// the error's headers rather than the blob's
	rc, err := bh.blobs.Reader(c, bh.Digest, 0)
	if err != nil {
		if errors.Is(err, storage.ErrBlobUnknown) {
			// metadata row without data means a lost object, surface as unknown
			bh.log.WithField("digest", bh.Digest).Error("blob metadata present but data missing")
			bh.Errors = append(bh.Errors, v2.ErrorCodeBlobUnknown)
			return
		}
		bh.Errors = append(bh.Errors, errcodeUnknown(err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
	w.Header().Set("Docker-Content-Digest", blob.Digest.String())

	if _, err := io.Copy(w, rc); err != nil {
		bh.log.WithError(err).Error("error streaming blob")
	}
}
