package scheduling

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/auth"
	"github.com/shikaclinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.StaffRoles...))
	readGroup.GET("/reservations", h.ListReservations)
	readGroup.GET("/reservations/:id", h.GetReservation)
	readGroup.GET("/calendar", h.GetCalendar)
	readGroup.GET("/units", h.ListUnits)
	readGroup.GET("/waiting-list", h.ListWaitingList)

	writeGroup := api.Group("", auth.RequireRole(auth.ChairsideRoles...))
	writeGroup.POST("/reservations", h.CreateReservation)
	writeGroup.PATCH("/reservations/:id", h.UpdateReservation)
	writeGroup.POST("/reservations/:id/status", h.SetStatus)
	writeGroup.POST("/reservations/:id/check-in", h.CheckIn)
}

// HTTPError converts a service error into an echo error with the
// user-facing message.
func HTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperr.StatusCode(err), apperr.Message(err))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// today is the clinic-local date as YYYY-MM-DD.
func (h *Handler) today() string {
	return h.svc.Now().Format(DateLayout)
}

func (h *Handler) ListReservations(c echo.Context) error {
	from := c.QueryParam("from")
	if from == "" {
		from = h.today()
	}
	to := c.QueryParam("to")
	if to == "" {
		to = from
	}

	var f Filter
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	if v := c.QueryParam("source"); v != "" {
		src := Source(v)
		f.Source = &src
	}
	if v := c.QueryParam("unit_id"); v != "" {
		uid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid unit_id")
		}
		f.UnitID = &uid
	}
	if v := c.QueryParam("include_cancelled"); v != "" {
		f.IncludeCancelled, _ = strconv.ParseBool(v)
	}

	items, err := h.svc.ListReservations(c.Request().Context(), from, to, f)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pagination.FromContext(c)))
}

func (h *Handler) GetReservation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetReservation(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

type createReservationRequest struct {
	PatientID uuid.UUID  `json:"patient_id"`
	UnitID    *uuid.UUID `json:"unit_id"`
	Date      string     `json:"reservation_date"`
	StartTime string     `json:"start_time"`
	EndTime   *string    `json:"end_time"`
	Category  Category   `json:"category"`
	Status    Status     `json:"status"`
	Source    Source     `json:"source"`
	Note      *string    `json:"note"`
}

func (h *Handler) CreateReservation(c echo.Context) error {
	var req createReservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Source == "" {
		req.Source = SourceManual
	}
	created, err := h.svc.CreateReservation(c.Request().Context(), &Reservation{
		PatientID: req.PatientID,
		UnitID:    req.UnitID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Category:  req.Category,
		Status:    req.Status,
		Source:    req.Source,
		Note:      req.Note,
	})
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// updateReservationRequest mirrors Patch for JSON. An empty unit_id string
// unassigns the chair.
type updateReservationRequest struct {
	Status   *Status   `json:"status"`
	UnitID   *string   `json:"unit_id"`
	Category *Category `json:"category"`
	Note     *string   `json:"note"`
}

func (h *Handler) UpdateReservation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateReservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p := Patch{Status: req.Status, Category: req.Category, Note: req.Note}
	if req.UnitID != nil {
		if *req.UnitID == "" {
			p.ClearUnit = true
		} else {
			uid, err := uuid.Parse(*req.UnitID)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid unit_id")
			}
			p.UnitID = &uid
		}
	}

	r, err := h.svc.UpdateReservation(c.Request().Context(), id, p)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.SetStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

type checkInResponse struct {
	Reservation   *Reservation `json:"reservation"`
	WaitingNumber int          `json:"waiting_number"`
}

func (h *Handler) CheckIn(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	r, err := h.svc.CheckIn(ctx, id)
	if err != nil {
		return HTTPError(err)
	}
	n, err := h.svc.WaitingNumber(ctx, r)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, checkInResponse{Reservation: r, WaitingNumber: n})
}

func (h *Handler) GetCalendar(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		date = h.today()
	}
	cal, err := h.svc.Calendar(c.Request().Context(), date)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cal)
}

func (h *Handler) ListUnits(c echo.Context) error {
	units, err := h.svc.ListUnits(c.Request().Context())
	if err != nil {
		return HTTPError(err)
	}
	if units == nil {
		units = []*Unit{}
	}
	return c.JSON(http.StatusOK, units)
}

func (h *Handler) ListWaitingList(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		date = h.today()
	}
	items, err := h.svc.WaitingList(c.Request().Context(), date)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pagination.FromContext(c)))
}
