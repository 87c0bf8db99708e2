package checkin

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/shikaclinic/clinic/internal/domain/insurance"
	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/blobstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the kiosk on the unauthenticated public group.
func (h *Handler) RegisterRoutes(public *echo.Group) {
	public.POST("/checkin/search", h.Search)
	public.POST("/checkin/:id/insurance", h.UploadInsurance)
	public.POST("/checkin/:id/confirm", h.Confirm)
	public.GET("/checkin/:id/complete", h.Complete)
}

func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperr.StatusCode(err), apperr.Message(err))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Search(c echo.Context) error {
	var q Query
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Search(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// readImage loads one uploaded card photo. The content type comes from the
// part header, or is sniffed when the browser sent none.
func readImage(fh *multipart.FileHeader) (insurance.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return insurance.Image{}, echo.NewHTTPError(http.StatusBadRequest, "could not read upload")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, blobstore.MaxFileSize+1))
	if err != nil {
		return insurance.Image{}, echo.NewHTTPError(http.StatusBadRequest, "could not read upload")
	}
	ct := fh.Header.Get(echo.HeaderContentType)
	if ct == "" || ct == echo.MIMEOctetStream {
		ct = http.DetectContentType(data)
	}
	return insurance.Image{ContentType: ct, Data: data}, nil
}

func (h *Handler) UploadInsurance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	frontFile, err := c.FormFile("front")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "front image is required")
	}
	front, err := readImage(frontFile)
	if err != nil {
		return err
	}
	var back *insurance.Image
	if backFile, err := c.FormFile("back"); err == nil {
		img, err := readImage(backFile)
		if err != nil {
			return err
		}
		back = &img
	}

	res, err := h.svc.Insurance(c.Request().Context(), id, front, back)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Confirm(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}
