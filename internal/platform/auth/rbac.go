package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// AdminRole passes every role check.
const AdminRole = "admin"

// Clinical roles allowed to use the workspace API.
var (
	ReadRoles  = []string{"physician", "nurse", "registrar", "medical_assistant"}
	WriteRoles = []string{"physician", "nurse", "registrar"}
)

// HasRole reports whether the caller in ctx holds any of roles.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == AdminRole || slices.Contains(roles, has) {
			return true
		}
	}
	return false
}

// RequireRole rejects callers holding none of roles with 403. A request
// without an owner is rejected with 401 before roles are checked.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	denied := "required role: " + strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if !HasRole(ctx, roles...) {
				if UserIDFromContext(ctx) == "" && len(RolesFromContext(ctx)) == 0 {
					return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
				}
				return echo.NewHTTPError(http.StatusForbidden, denied)
			}
			return next(c)
		}
	}
}
