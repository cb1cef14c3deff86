package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/AaronLay10/propmodel/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// authConfig holds credentials loaded from environment variables.
type authConfig struct {
	adminUser    string
	adminPass    string
	operatorUser string
	operatorPass string
	enabled      bool
}

var auth *authConfig

// InitAuth loads credentials from PROPMODEL_ADMIN_USER/PASS and
// PROPMODEL_OPERATOR_USER/PASS, or their *_FILE variants. Without admin
// credentials authentication is disabled.
func InitAuth() error {
	adminUser, adminPass, adminOK, err := config.ResolveCredentials("PROPMODEL_ADMIN_USER", "PROPMODEL_ADMIN_PASS")
	if err != nil {
		return fmt.Errorf("admin credentials: %w", err)
	}
	operatorUser, operatorPass, _, err := config.ResolveCredentials("PROPMODEL_OPERATOR_USER", "PROPMODEL_OPERATOR_PASS")
	if err != nil {
		return fmt.Errorf("operator credentials: %w", err)
	}

	auth = &authConfig{
		adminUser:    adminUser,
		adminPass:    adminPass,
		operatorUser: operatorUser,
		operatorPass: operatorPass,
		enabled:      adminOK,
	}
	return nil
}

// IsAuthEnabled returns true if authentication is configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

// authenticate checks basic auth credentials and returns the role, or ""
// if they are invalid.
func authenticate(r *http.Request) Role {
	if auth == nil || !auth.enabled {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}

	if auth.adminUser != "" && auth.adminPass != "" {
		if secureCompare(user, auth.adminUser) && secureCompare(pass, auth.adminPass) {
			return RoleAdmin
		}
	}

	if auth.operatorUser != "" && auth.operatorPass != "" {
		if secureCompare(user, auth.operatorUser) && secureCompare(pass, auth.operatorPass) {
			return RoleOperator
		}
	}

	return ""
}

// secureCompare performs a constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="propmodel"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the given roles.
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

		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole wraps a handler requiring admin or operator.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin wraps a handler requiring admin.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
