// Package rbac gates HTTP surface on the permissions of the session's
// selected role. The gate is advisory UX for the fleet SPA and a hard
// check for this service's own endpoints; it never substitutes for
// the credential verification done at login.
package rbac

import (
	"log/slog"
	"net/http"

	"github.com/campusfleet/campusfleet/internal/platform/httpx"
	"github.com/campusfleet/campusfleet/internal/roles"
	"github.com/campusfleet/campusfleet/internal/session"
)

// Gate wires permission checks for HTTP handlers.
type Gate struct {
	Logger *slog.Logger
}

// Allowed reports whether the session's selected role grants the
// permission. False whenever no role is selected.
func Allowed(sess *session.Session, perm roles.Permission) bool {
	return sess.HasPermission(perm)
}

// RequireAny admits requests whose session holds at least one of the
// required permissions.
func (g Gate) RequireAny(perms ...roles.Permission) func(http.Handler) http.Handler {
	return g.require(perms, func(sess *session.Session) bool {
		for _, p := range perms {
			if sess.HasPermission(p) {
				return true
			}
		}
		return false
	})
}

// RequireAll admits requests whose session holds every required
// permission.
func (g Gate) RequireAll(perms ...roles.Permission) func(http.Handler) http.Handler {
	return g.require(perms, func(sess *session.Session) bool {
		for _, p := range perms {
			if !sess.HasPermission(p) {
				return false
			}
		}
		return true
	})
}

// Either renders granted when the session holds the permission and
// denied otherwise. A nil denied branch renders nothing.
func (g Gate) Either(perm roles.Permission, granted, denied http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		if sess.HasPermission(perm) {
			granted.ServeHTTP(w, r)
			return
		}
		if denied != nil {
			denied.ServeHTTP(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (g Gate) require(perms []roles.Permission, allowed func(*session.Session) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			sess := session.FromContext(r.Context())
			if sess == nil || !sess.Authenticated {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if !allowed(sess) {
				if g.Logger != nil {
					g.Logger.Warn("permission denied",
						slog.String("path", r.URL.Path),
						slog.String("session_id", sess.ID))
				}
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
