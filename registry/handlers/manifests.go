package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	v2 "github.com/deploys-app/registry/registry/api/v2"
	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/datastore/models"
	"github.com/deploys-app/registry/registry/storage/validation"
)

// manifestDispatcher takes the request context and builds the appropriate handler for handling
// manifest requests.
func manifestDispatcher(ctx *Context, r *http.Request) http.Handler {
	manifestHandler := &manifestHandler{
		Context: ctx,
	}

	reference := mux.Vars(r)["reference"]
	if dgst, err := digest.Parse(reference); err == nil {
		manifestHandler.Digest = dgst
	} else {
		manifestHandler.Tag = reference
	}

	return handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(manifestHandler.GetManifest),
		http.MethodHead: http.HandlerFunc(manifestHandler.GetManifest),
		http.MethodPut:  http.HandlerFunc(manifestHandler.PutManifest),
	}
}

// manifestHandler handles http operations on manifests. Exactly one of Tag or Digest is set,
// depending on the reference in the URL.
type manifestHandler struct {
	*Context

	Tag    string
	Digest digest.Digest
}

// GetManifest fetches the manifest from the repository by tag or digest and serves the stored
// payload byte for byte; the digest header is only meaningful because the payload is never
// re-serialized.
func (mh *manifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	repo, ok := mh.repository(c)
	if !ok {
		return
	}

	dgst := mh.Digest
	if mh.Tag != "" {
		tag, err := datastore.NewTagStore(mh.db).FindByName(c, repo, mh.Tag)
		if err != nil {
			mh.Errors = append(mh.Errors, errcodeUnknown(err))
			return
		}
		if tag == nil {
			mh.Errors = append(mh.Errors, v2.ErrorCodeManifestUnknown.WithDetail(map[string]string{"tag": mh.Tag}))
			return
		}
		dgst = tag.Digest
	}

	manifest, err := datastore.NewManifestStore(mh.db).FindByDigest(c, repo, dgst)
	if err != nil {
		mh.Errors = append(mh.Errors, errcodeUnknown(err))
		return
	}
	if manifest == nil {
		mh.Errors = append(mh.Errors, v2.ErrorCodeManifestUnknown.WithDetail(map[string]string{"digest": dgst.String()}))
		return
	}

	w.Header().Set("Content-Type", manifest.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(manifest.Payload)))
	w.Header().Set("Docker-Content-Digest", manifest.Digest.String())

	if r.Method == http.MethodHead {
		return
	}

	w.Write(manifest.Payload)
}

// PutManifest validates and stores a manifest in the repository. Every blob and manifest the
// payload references must already exist in this repository; the upload order clients follow
// (blobs, then manifests, then the list) makes this a natural fit.
func (mh *manifestHandler) PutManifest(w http.ResponseWriter, r *http.Request) {
	c := r.Context()

	repo, ok := mh.createRepository(c)
	if !ok {
		return
	}

	payload, err := copyFullPayload(mh.Context, r, maxManifestBodySize)
	if err != nil {
		mh.Errors = append(mh.Errors, v2.ErrorCodeManifestInvalid.WithDetail(err.Error()))
		return
	}

	mediaType := r.Header.Get("Content-Type")
	parsed, err := validation.Parse(mediaType, payload)
	if err != nil {
		mh.manifestError(err)
		return
	}

	dgst := digest.FromBytes(payload)
	if mh.Digest != "" && dgst != mh.Digest {
		mh.Errors = append(mh.Errors, v2.ErrorCodeDigestInvalid.WithDetail(map[string]string{
			"expected": mh.Digest.String(),
			"actual":   dgst.String(),
		}))
		return
	}

	if !mh.verifyReferences(c, repo, parsed) {
		return
	}

	// manifest row and tag row commit atomically so a tag never points at a manifest the
	// repository does not hold
	tx, err := mh.db.BeginTx(c, nil)
	if err != nil {
		mh.Errors = append(mh.Errors, errcodeUnknown(err))
		return
	}
	defer tx.Rollback()

	manifest := &models.Manifest{
		RepositoryID: repo.ID,
		Digest:       dgst,
		MediaType:    mediaType,
		Payload:      payload,
	}
	if err := datastore.NewManifestStore(tx).CreateOrFind(c, manifest); err != nil {
		mh.Errors = append(mh.Errors, errcodeUnknown(err))
		return
	}

	if mh.Tag != "" {
		tag := &models.Tag{
			RepositoryID: repo.ID,
			Name:         mh.Tag,
			Digest:       dgst,
		}
		if err := datastore.NewTagStore(tx).Set(c, tag); err != nil {
			mh.Errors = append(mh.Errors, errcodeUnknown(err))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		mh.Errors = append(mh.Errors, errcodeUnknown(err))
		return
	}

	w.Header().Set("Location", mh.manifestURL(dgst.String()))
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusCreated)
}

// verifyReferences checks that everything the manifest references is already present in the
// repository, appending MANIFEST_BLOB_UNKNOWN errors for whatever is missing.
func (mh *manifestHandler) verifyReferences(c context.Context, repo *models.Repository, parsed *validation.Manifest) bool {
	verified := true

	blobs := datastore.NewBlobStore(mh.db)
	for _, desc := range parsed.Blobs {
		exists, err := blobs.ExistsByDigest(c, repo, desc.Digest)
		if err != nil {
			mh.Errors = append(mh.Errors, errcodeUnknown(err))
			return false
		}
		if !exists {
			mh.Errors = append(mh.Errors, v2.ErrorCodeManifestBlobUnknown.WithDetail(map[string]string{"digest": desc.Digest.String()}))
			verified = false
		}
	}

	manifests := datastore.NewManifestStore(mh.db)
	for _, desc := range parsed.Manifests {
		exists, err := manifests.ExistsByDigest(c, repo, desc.Digest)
		if err != nil {
			mh.Errors = append(mh.Errors, errcodeUnknown(err))
			return false
		}
		if !exists {
			mh.Errors = append(mh.Errors, v2.ErrorCodeManifestBlobUnknown.WithDetail(map[string]string{"digest": desc.Digest.String()}))
			verified = false
		}
	}

	return verified
}

// manifestError translates validation errors into wire errors.
func (mh *manifestHandler) manifestError(err error) {
	switch err := err.(type) {
	case validation.UnsupportedMediaTypeError:
		mh.Errors = append(mh.Errors, errcodeManifestUnsupported(err.MediaType))
	case validation.InvalidManifestError:
		mh.Errors = append(mh.Errors, v2.ErrorCodeManifestInvalid.WithDetail(err.Reason))
	default:
		mh.Errors = append(mh.Errors, errcodeUnknown(err))
	}
}

func errcodeManifestUnsupported(mediaType string) error {
	return v2.ErrorCodeManifestInvalid.WithMessage(
		fmt.Sprintf("unsupported manifest media type %q; supported: %s, %s, %s, %s",
			mediaType,
			validation.MediaTypeManifest, validation.MediaTypeManifestList,
			v1.MediaTypeImageManifest, v1.MediaTypeImageIndex))
}
