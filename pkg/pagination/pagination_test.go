package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(contextFor(""))
	if p.Limit != DefaultLimit {
		t.Errorf("expected limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(contextFor("limit=10&offset=30"))
	if p.Limit != 10 || p.Offset != 30 {
		t.Errorf("expected 10/30, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_Clamps(t *testing.T) {
	p := FromContext(contextFor("limit=5000&offset=-4"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected negative offset clamped to 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 10, 2, 0)
	if resp.Total != 10 || !resp.HasMore {
		t.Errorf("unexpected response: %+v", resp)
	}
	resp = NewResponse([]string{"a"}, 3, 2, 2)
	if resp.HasMore {
		t.Error("expected last page to have no more")
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	resp := Slice(items, Params{Limit: 2, Offset: 2})
	page := resp.Data.([]int)
	if len(page) != 2 || page[0] != 3 {
		t.Errorf("expected [3 4], got %v", page)
	}
	if resp.Total != 5 || !resp.HasMore {
		t.Errorf("unexpected response: %+v", resp)
	}

	resp = Slice(items, Params{Limit: 10, Offset: 50})
	if page := resp.Data.([]int); len(page) != 0 || page == nil {
		t.Errorf("expected empty non-nil page, got %#v", page)
	}
}
