package api

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/mfeltner/homelink/internal/config"
)

// Role is the access level a dashboard login grants.
type Role string

const (
	// RoleAdmin can do everything a member can, plus read the persisted
	// event history.
	RoleAdmin Role = "admin"
	// RoleMember covers day-to-day household use: device commands,
	// alerts, camera watching.
	RoleMember Role = "member"
)

// allows reports whether a login with role r may use a route gated on
// required. Admin supersedes member.
func (r Role) allows(required Role) bool {
	return r == RoleAdmin || r == required
}

type credential struct {
	user string
	pass string
}

// authConfig maps basic-auth logins onto roles. An empty login table
// disables authentication and every request acts as admin, which is the
// local dev default.
type authConfig struct {
	logins map[Role]credential
}

var auth *authConfig

var roleEnvPrefix = map[Role]string{
	RoleAdmin:  "HOMELINK_ADMIN",
	RoleMember: "HOMELINK_MEMBER",
}

// InitAuth loads dashboard logins from the environment, honoring the
// *_FILE convention for every variable. Admin credentials switch
// authentication on; member credentials are optional on top. A role
// with only one of user/pass set is treated as unconfigured.
func InitAuth() {
	logins := make(map[Role]credential)
	for role, prefix := range roleEnvPrefix {
		user, err := config.ResolveSecret(prefix + "_USER")
		if err != nil {
			log.Fatalf("failed to resolve %s_USER: %v", prefix, err)
		}
		pass, err := config.ResolveSecret(prefix + "_PASS")
		if err != nil {
			log.Fatalf("failed to resolve %s_PASS: %v", prefix, err)
		}
		if user != "" && pass != "" {
			logins[role] = credential{user: user, pass: pass}
		}
	}

	if _, ok := logins[RoleAdmin]; !ok {
		// A member-only table would lock the admin surface with no way
		// in. Without an admin login, authentication stays off.
		auth = &authConfig{}
		return
	}
	auth = &authConfig{logins: logins}
}

// IsAuthEnabled reports whether logins are configured.
func IsAuthEnabled() bool {
	return auth != nil && len(auth.logins) > 0
}

// authenticate resolves the request's basic-auth credentials to a role.
func authenticate(r *http.Request) (Role, bool) {
	if !IsAuthEnabled() {
		return RoleAdmin, true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	for _, role := range []Role{RoleAdmin, RoleMember} {
		cred, ok := auth.logins[role]
		if ok && secureCompare(user, cred.user) && secureCompare(pass, cred.pass) {
			return role, true
		}
	}
	return "", false
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireRole(required Role, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="homelink"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !role.allows(required) {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		h(w, r)
	}
}

// RequireMember gates the day-to-day dashboard routes: any configured
// login passes.
func RequireMember(h http.HandlerFunc) http.HandlerFunc {
	return requireRole(RoleMember, h)
}

// RequireAdmin gates the admin-only surface.
func RequireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return requireRole(RoleAdmin, h)
}
