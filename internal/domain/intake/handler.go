package intake

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

// RegisterRoutes mounts the patient questionnaire on the public group and
// the staff read-back on the admin group.
func (h *Handler) RegisterRoutes(public, api *echo.Group) {
	public.GET("/interviews/:reservation_id/form", h.GetForm)
	public.POST("/interviews", h.Submit)

	readGroup := api.Group("", auth.RequireRole(auth.StaffRoles...))
	readGroup.GET("/reservations/:id/interview", h.GetInterview)
}

func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperr.StatusCode(err), apperr.Message(err))
}

func reservationID(c echo.Context, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Submit(c echo.Context) error {
	var sub Submission
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	iv, err := h.svc.Submit(c.Request().Context(), sub)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, iv)
}

func (h *Handler) GetForm(c echo.Context) error {
	id, err := reservationID(c, "reservation_id")
	if err != nil {
		return err
	}
	v, err := h.svc.Form(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetInterview(c echo.Context) error {
	id, err := reservationID(c, "id")
	if err != nil {
		return err
	}
	iv, err := h.svc.ForReservation(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, iv)
}
