package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
)

type quantityBody struct {
	Name     string          `json:"name" validate:"required,max=8"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

func TestDecodeJSONBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		field   string
	}{
		{name: "valid", body: `{"name":"bottle","quantity":"1.5"}`},
		{name: "missing name", body: `{"quantity":"1"}`, wantErr: true, field: "name"},
		{name: "zero quantity", body: `{"name":"bottle","quantity":"0"}`, wantErr: true, field: "quantity"},
		{name: "unknown field", body: `{"name":"bottle","quantity":"1","extra":true}`, wantErr: true},
		{name: "malformed", body: `{"name":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dest quantityBody
			err := DecodeJSONBody(req, &dest)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !dest.Quantity.Equal(decimal.RequireFromString("1.5")) {
					t.Fatalf("unexpected quantity %s", dest.Quantity)
				}
				return
			}
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tt.field == "" {
				return
			}
			details, _ := pkgerrors.As(err).Details().(map[string]string)
			if _, ok := details[tt.field]; !ok {
				t.Fatalf("expected detail for %s, got %v", tt.field, details)
			}
		})
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	if _, err := ParseQueryInt(req, "limit", 25, 1, 100); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected range error, got %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	got, err := ParseQueryInt(req, "limit", 25, 1, 100)
	if err != nil || got != 25 {
		t.Fatalf("expected default 25, got %d (%v)", got, err)
	}
}

func TestParseUUIDs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?location_id=nope", nil)
	if _, err := ParseQueryUUID(req, "location_id"); err == nil {
		t.Fatal("expected invalid uuid error")
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if id, err := ParseQueryUUID(req, "location_id"); err != nil || id != nil {
		t.Fatalf("expected absent id, got %v (%v)", id, err)
	}

	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("productId", "3f0b9a0e-8f4c-4a53-9d4b-1d2c3e4f5a6b")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	id, err := ParseURLUUID(req, "productId")
	if err != nil || id.String() != "3f0b9a0e-8f4c-4a53-9d4b-1d2c3e4f5a6b" {
		t.Fatalf("unexpected id %s (%v)", id, err)
	}
	if _, err := ParseURLUUID(req, "locationId"); err == nil {
		t.Fatal("expected error for missing param")
	}
}

type conversionBody struct {
	FromUnit string          `json:"from_unit" validate:"required,unit"`
	ToUnit   string          `json:"to_unit" validate:"required,unit,nefield=FromUnit"`
	Factor   decimal.Decimal `json:"factor" validate:"gt=0"`
}

type batchBody struct {
	Items []quantityBody `json:"items" validate:"dive"`
}

func TestDecodeJSONBodyUnitRules(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "uppercase unit", body: `{"from_unit":"Bottle","to_unit":"glass","factor":"5"}`, field: "from_unit"},
		{name: "same units", body: `{"from_unit":"bottle","to_unit":"bottle","factor":"5"}`, field: "to_unit"},
		{name: "spaces", body: `{"from_unit":"case 6","to_unit":"bottle","factor":"6"}`, field: "from_unit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dest conversionBody
			err := DecodeJSONBody(req, &dest)
			details, _ := pkgerrors.As(err).Details().(map[string]string)
			if _, ok := details[tt.field]; !ok {
				t.Fatalf("expected detail for %s, got %v (%v)", tt.field, details, err)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"from_unit":"case_6","to_unit":"bottle","factor":"6"}`))
	var ok conversionBody
	if err := DecodeJSONBody(req, &ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeJSONBodyNestedFieldPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":[{"name":"a","quantity":"1"},{"name":"b","quantity":"0"}]}`))
	var dest batchBody
	err := DecodeJSONBody(req, &dest)
	details, _ := pkgerrors.As(err).Details().(map[string]string)
	if _, ok := details["items[1].quantity"]; !ok {
		t.Fatalf("expected nested detail, got %v", details)
	}
}

func TestDecodeJSONBodyRejectsTrailingDocument(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","quantity":"1"} {"name":"b"}`))
	var dest quantityBody
	if err := DecodeJSONBody(req, &dest); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{in: "  evt-1  ", max: 128, want: "evt-1"},
		{in: "evt\x00-\t2", max: 128, want: "evt-2"},
		{in: "bottle", max: 3, want: "bot"},
		{in: "añejo", max: 2, want: "a"},
		{in: "glass", max: 0, want: "glass"},
	}
	for _, tt := range tests {
		if got := SanitizeString(tt.in, tt.max); got != tt.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
