// Package auth decides whether a request may touch a project's repositories. The registry holds
// no accounts of its own: every decision is delegated to an external control plane, and only the
// decision (not the credential) is cached for a short TTL.
package auth

import (
	"context"
	"net/http"
)

// Permissions checked against the delegate.
const (
	PermissionPull = "registry.pull"
	PermissionPush = "registry.push"
)

// PermissionForMethod maps an HTTP method to the permission it requires. Reads need pull,
// everything else needs push.
func PermissionForMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return PermissionPull
	default:
		return PermissionPush
	}
}

// Authorizer answers access questions for a credential. A false answer carries no reason; the
// delegate does not distinguish bad credentials from missing grants, and neither do we.
type Authorizer interface {
	// Authorized reports whether credential may act with permission on project.
	Authorized(ctx context.Context, credential, project, permission string) (bool, error)

	// Identify reports whether credential belongs to a known account, project-independent. Used
	// for the version check endpoint.
	Identify(ctx context.Context, credential string) (bool, error)
}
