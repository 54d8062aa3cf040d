package handlers

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/deploys-app/registry/registry/api/errcode"
)

// errcodeUnknown wraps an unexpected error for the wire without leaking internals: the detail
// carries the message only.
func errcodeUnknown(err error) error {
	return errcode.ErrorCodeUnknown.WithDetail(err.Error())
}

// maxManifestBodySize bounds manifest payload reads. Manifests are small JSON documents; anything
// larger is rejected before it touches the database.
const maxManifestBodySize = 4 << 20

// copyFullPayload reads the request body into a buffer, failing loudly on a short read so a
// truncated upload is never mistaken for a complete one.
func copyFullPayload(ctx *Context, r *http.Request, limit int64) ([]byte, error) {
	body := io.LimitReader(r.Body, limit+1)

	p, err := ioutil.ReadAll(body)
	if err != nil {
		ctx.log.WithError(err).Error("error reading request payload")
		return nil, err
	}
	if int64(len(p)) > limit {
		return nil, fmt.Errorf("payload exceeds %d bytes", limit)
	}

	if r.ContentLength > 0 && int64(len(p)) != r.ContentLength {
		return nil, fmt.Errorf("short read: got %d of %d bytes", len(p), r.ContentLength)
	}

	return p, nil
}

// parseContentRange parses a Content-Range header of the form "<start>-<end>" as used by chunked
// blob uploads. Returns ok=false when the header is absent.
func parseContentRange(r *http.Request) (start, end int64, ok bool, err error) {
	header := r.Header.Get("Content-Range")
	if header == "" {
		return 0, 0, false, nil
	}

	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("invalid content range %q", header)
	}

	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid content range %q: %w", header, err)
	}
	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid content range %q: %w", header, err)
	}
	if start < 0 || end < start {
		return 0, 0, false, fmt.Errorf("invalid content range %q", header)
	}

	return start, end, true, nil
}

// rangeHeader renders the Range response header for an upload with size bytes received.
func rangeHeader(size int64) string {
	if size == 0 {
		return "0-0"
	}
	return fmt.Sprintf("0-%d", size-1)
}
