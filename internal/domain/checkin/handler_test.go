package checkin_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/shikaclinic/clinic/internal/domain/checkin"
	"github.com/shikaclinic/clinic/internal/domain/scheduling"
)

func expectHTTPCode(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

func TestHandler_SearchAndConfirm(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	r := f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-10", StartTime: "10:00"})
	h, e := checkin.NewHandler(f.svc), echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/checkin/search",
		strings.NewReader(`{"name_last":"山田","name_first":"太郎","phone":"09012345678"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Search(e.NewContext(req, rec)); err != nil {
		t.Fatalf("search: %v", err)
	}
	var m checkin.Match
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.ReservationID != r.ID {
		t.Fatalf("unexpected match %+v", m)
	}
	if strings.Contains(rec.Body.String(), "1990-01-01") || strings.Contains(rec.Body.String(), "phone") {
		t.Error("search response must not echo identifying details")
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := h.Confirm(c); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	var ticket checkin.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &ticket); err != nil {
		t.Fatal(err)
	}
	if ticket.WaitingNumber != 1 {
		t.Errorf("expected waiting number 1, got %d", ticket.WaitingNumber)
	}
}

func TestHandler_Search_NoMatchIs404(t *testing.T) {
	f := newFixture(t)
	h, e := checkin.NewHandler(f.svc), echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/checkin/search",
		strings.NewReader(`{"name_last":"山田","name_first":"太郎","birth_date":"1990-01-01"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	expectHTTPCode(t, h.Search(e.NewContext(req, httptest.NewRecorder())), http.StatusNotFound)
}

func TestHandler_UploadInsurance(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	r := f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-10", StartTime: "10:00"})
	h, e := checkin.NewHandler(f.svc), echo.New()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="front"; filename="front.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, _ := mw.CreatePart(hdr)
	part.Write([]byte("jpeg-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())

	if err := h.UploadInsurance(c); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(f.cards.captured) != 1 || f.cards.captured[0] != p.ID {
		t.Errorf("expected one capture for the patient, got %v", f.cards.captured)
	}
}

func TestHandler_UploadInsurance_MissingFront(t *testing.T) {
	f := newFixture(t)
	h, e := checkin.NewHandler(f.svc), echo.New()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("note", "none")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("00000000-0000-0000-0000-000000000001")

	expectHTTPCode(t, h.UploadInsurance(c), http.StatusBadRequest)
}

func TestHandler_Complete_BadID(t *testing.T) {
	f := newFixture(t)
	h, e := checkin.NewHandler(f.svc), echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	expectHTTPCode(t, h.Complete(c), http.StatusBadRequest)
}
