package insurance

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the staff endpoints. Patients upload cards through
// the check-in flow.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.StaffRoles...))
	readGroup.GET("/patients/:id/insurance", h.Get)

	writeGroup := api.Group("", auth.RequireRole(auth.FrontDeskRoles...))
	writeGroup.POST("/patients/:id/insurance/verify", h.Verify)
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Get(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	ins, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.StatusCode(err), apperr.Message(err))
	}
	return c.JSON(http.StatusOK, ins)
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	ins, err := h.svc.Verify(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.StatusCode(err), apperr.Message(err))
	}
	return c.JSON(http.StatusOK, ins)
}
