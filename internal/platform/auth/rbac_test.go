package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"matching role", []string{"receptionist"}, http.StatusOK},
		{"admin passes", []string{"admin"}, http.StatusOK},
		{"other role", []string{"hygienist"}, http.StatusForbidden},
		{"no roles", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithUser(context.Background(), "u", tt.roles))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole("dentist", "receptionist")(okHandler)(c)
			code := rec.Code
			if httpErr, ok := err.(*echo.HTTPError); ok {
				code = httpErr.Code
			}
			if code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	if !HasRole([]string{RoleAdmin}, RoleReceptionist) {
		t.Error("admin must pass every check")
	}
	if !HasRole([]string{RoleHygienist}, StaffRoles...) {
		t.Error("hygienist is staff")
	}
	if HasRole([]string{RoleHygienist}, FrontDeskRoles...) {
		t.Error("hygienist is not front desk")
	}
	if HasRole(nil, StaffRoles...) {
		t.Error("no roles must not pass")
	}
}
