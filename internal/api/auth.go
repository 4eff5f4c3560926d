package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/AaronLay10/ScratchDesk/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// credential pairs a basic-auth login with the role it grants.
type credential struct {
	role Role
	user string
	pass string
}

// credentials is the login table, ordered most privileged first so a
// login matching both pairs grants the higher role.
var credentials []credential

// InitAuth loads the control plane logins. Each value resolves through
// the *_FILE convention so passwords can live outside the environment.
// A pair missing either half is skipped; with no admin pair the API
// runs open (dev-friendly).
func InitAuth() {
	specs := []struct {
		role    Role
		userVar string
		passVar string
	}{
		{RoleAdmin, "DESK_ADMIN_USER", "DESK_ADMIN_PASS"},
		{RoleOperator, "DESK_OPERATOR_USER", "DESK_OPERATOR_PASS"},
	}

	table := make([]credential, 0, len(specs))
	for _, s := range specs {
		user := config.MustResolveSecret(s.userVar)
		pass := config.MustResolveSecret(s.passVar)
		if user == "" || pass == "" {
			continue
		}
		table = append(table, credential{role: s.role, user: user, pass: pass})
	}
	credentials = table
}

// IsAuthEnabled reports whether logins are required. The admin pair is
// the master switch: without it the desk runs open even if an operator
// pair is present.
func IsAuthEnabled() bool {
	for _, c := range credentials {
		if c.role == RoleAdmin {
			return true
		}
	}
	return false
}

// authenticate checks basic auth against the login table and returns
// the matching role, or empty when the credentials fit nothing.
func authenticate(r *http.Request) Role {
	if !IsAuthEnabled() {
		return RoleAdmin // No auth configured = full access
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}

	for _, c := range credentials {
		if secureCompare(user, c.user) && secureCompare(pass, c.pass) {
			return c.role
		}
	}
	return ""
}

// secureCompare performs constant-time string comparison to prevent timing attacks.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requireAuth returns 401 Unauthorized with WWW-Authenticate header.
func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="ScratchDesk"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}

		// Authenticated but the role does not cover this endpoint
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole wraps a handler requiring admin OR operator role.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin wraps a handler requiring admin role only.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
