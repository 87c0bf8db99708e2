package auth

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// Clinic staff roles carried in the token's roles claim.
const (
	RoleAdmin        = "admin"
	RoleDentist      = "dentist"
	RoleHygienist    = "hygienist"
	RoleAssistant    = "assistant"
	RoleReceptionist = "receptionist"
)

var (
	// StaffRoles may read reservations, patients and questionnaires.
	StaffRoles = []string{RoleAdmin, RoleDentist, RoleHygienist, RoleAssistant, RoleReceptionist}
	// ChairsideRoles may book and move reservations.
	ChairsideRoles = []string{RoleAdmin, RoleDentist, RoleReceptionist}
	// FrontDeskRoles handle insurance paperwork.
	FrontDeskRoles = []string{RoleAdmin, RoleReceptionist}
)

// HasRole reports whether have grants any of want. Admin grants everything.
func HasRole(have []string, want ...string) bool {
	if slices.Contains(have, RoleAdmin) {
		return true
	}
	return slices.ContainsFunc(want, func(r string) bool { return slices.Contains(have, r) })
}

// RequireRole rejects requests whose user holds none of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
			}
			return next(c)
		}
	}
}
