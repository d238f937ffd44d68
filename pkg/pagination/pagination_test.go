package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor(t, "/")

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor(t, "/?limit=50&offset=10")

	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_Page(t *testing.T) {
	tests := []struct {
		target     string
		wantOffset int
	}{
		{"/?page=1&limit=10", 0},
		{"/?page=3&limit=10", 20},
		{"/?page=0&limit=10", 0},
		{"/?page=2", DefaultLimit},
		{"/?page=5&offset=7&limit=10", 7},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if p := paramsFor(t, tt.target); p.Offset != tt.wantOffset {
				t.Errorf("expected offset %d, got %d", tt.wantOffset, p.Offset)
			}
		})
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := paramsFor(t, "/?limit=500")

	if p.Limit != MaxLimit {
		t.Errorf("expected max limit %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := paramsFor(t, "/?offset=-5")

	if p.Offset != 0 {
		t.Errorf("expected offset 0 for negative input, got %d", p.Offset)
	}
}

func TestNewPage(t *testing.T) {
	items := []string{"a", "b"}
	page := NewPage(items, 10, Params{Limit: 2, Offset: 0})

	if page.Total != 10 || page.Limit != 2 || page.Offset != 0 {
		t.Errorf("unexpected page %+v", page)
	}
	if !page.HasMore || page.NextOffset == nil || *page.NextOffset != 2 {
		t.Errorf("expected next offset 2, got %+v", page)
	}
	if page.PrevOffset != nil {
		t.Errorf("first page should have no previous offset, got %d", *page.PrevOffset)
	}

	last := NewPage(items, 10, Params{Limit: 2, Offset: 8})
	if last.HasMore || last.NextOffset != nil {
		t.Error("expected no next page after the last one")
	}
	if last.PrevOffset == nil || *last.PrevOffset != 6 {
		t.Errorf("expected previous offset 6, got %v", last.PrevOffset)
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name  string
		p     Params
		total int
		want  bool
	}{
		{"more results", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 20}, 30, false},
		{"past end", Params{Limit: 10, Offset: 30}, 25, false},
		{"empty", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext(%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestParams_HasPrevious(t *testing.T) {
	if (Params{Limit: 10, Offset: 0}).HasPrevious() {
		t.Error("first page has no previous")
	}
	if !(Params{Limit: 10, Offset: 10}).HasPrevious() {
		t.Error("second page has a previous")
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if got := p.NextOffset(); got != 15 {
		t.Errorf("NextOffset = %d, want 15", got)
	}
	if got := p.PreviousOffset(); got != 0 {
		t.Errorf("PreviousOffset = %d, want 0", got)
	}
	if got := (Params{Limit: 10, Offset: 30}).PreviousOffset(); got != 20 {
		t.Errorf("PreviousOffset = %d, want 20", got)
	}
}
