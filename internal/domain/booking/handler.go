package booking

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the wizard on the unauthenticated public group.
func (h *Handler) RegisterRoutes(public *echo.Group) {
	public.GET("/booking/slots", h.GetSlots)
	public.POST("/booking/review", h.Review)
	public.POST("/booking", h.Commit)
}

func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperr.StatusCode(err), apperr.Message(err))
}

func (h *Handler) GetSlots(c echo.Context) error {
	week, err := h.svc.Week(c.Request().Context(), c.QueryParam("week"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, week)
}

func (h *Handler) Review(c echo.Context) error {
	var f Form
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sum, err := h.svc.Review(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) Commit(c echo.Context) error {
	var f Form
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conf, err := h.svc.Commit(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, conf)
}
