package httpapi

import (
	"net/http"

	"github.com/vampirenirmal/taletwo/internal/errs"
)

// AuthResolver resolves the authenticated caller's userId from an
// incoming request, or returns errs.ErrUnauthorized if the request
// carries no usable credential. It is an external collaborator (spec.md
// §1): the core engine only needs a userId to check book ownership
// against, not an opinion about how that id was established.
type AuthResolver interface {
	ResolveUserID(r *http.Request) (string, error)
}

// DebugHeaderResolver is a stub AuthResolver for local/dev use: it trusts
// an X-Debug-User-Id header verbatim. Never wire this into a deployment
// that faces untrusted clients — it exists so the engine is runnable
// standalone without porting a real auth system.
type DebugHeaderResolver struct{}

// ResolveUserID implements AuthResolver.
func (DebugHeaderResolver) ResolveUserID(r *http.Request) (string, error) {
	userID := r.Header.Get("X-Debug-User-Id")
	if userID == "" {
		return "", errs.ErrUnauthorized
	}
	return userID, nil
}
