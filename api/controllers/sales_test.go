package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockledger-backend/api/middleware"
	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/pagination"
)

type stubSalesService struct {
	createFn  func(ctx context.Context, input sales.CreateInput) (*sales.CreateResult, error)
	confirmFn func(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error)
	cancelFn  func(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error)
	getFn     func(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error)
	pendingFn func(ctx context.Context, locationID *uuid.UUID, params pagination.Params) (pagination.Page[models.SaleTransaction], error)
}

func (s stubSalesService) Create(ctx context.Context, input sales.CreateInput) (*sales.CreateResult, error) {
	return s.createFn(ctx, input)
}

func (s stubSalesService) Confirm(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error) {
	return s.confirmFn(ctx, id, actor)
}

func (s stubSalesService) Cancel(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error) {
	return s.cancelFn(ctx, id, actor)
}

func (s stubSalesService) Get(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error) {
	return s.getFn(ctx, id)
}

func (s stubSalesService) GetByEventID(context.Context, string) (*models.SaleTransaction, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
}

func (s stubSalesService) ListPending(ctx context.Context, locationID *uuid.UUID, params pagination.Params) (pagination.Page[models.SaleTransaction], error) {
	return s.pendingFn(ctx, locationID, params)
}

func (s stubSalesService) CancelStalePending(context.Context, time.Time, int, audit.Actor) (sales.SweepResult, error) {
	return sales.SweepResult{}, nil
}

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code
}

func TestCreateSaleCreatedAndReplayed(t *testing.T) {
	userID := uuid.New()
	sale := &models.SaleTransaction{ID: uuid.New(), EventID: "evt-1", Status: enums.SaleStatusPending}
	var seen sales.CreateInput
	created := true
	svc := stubSalesService{createFn: func(_ context.Context, input sales.CreateInput) (*sales.CreateResult, error) {
		seen = input
		return &sales.CreateResult{Transaction: sale, Created: created}, nil
	}}
	body := []byte(`{"event_id":"evt-1","product_id":"` + uuid.NewString() + `","location_id":"` + uuid.NewString() + `","quantity":"2","unit_type":"bottle"}`)

	for _, tc := range []struct {
		created bool
		status  int
	}{
		{created: true, status: http.StatusCreated},
		{created: false, status: http.StatusOK},
	} {
		created = tc.created
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(body))
		req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
		rec := httptest.NewRecorder()
		CreateSale(svc, nil).ServeHTTP(rec, req)

		if rec.Code != tc.status {
			t.Fatalf("created=%v: expected %d got %d: %s", tc.created, tc.status, rec.Code, rec.Body.String())
		}
	}

	if seen.EventID != "evt-1" || !seen.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected input %+v", seen)
	}
	if seen.UserID == nil || *seen.UserID != userID {
		t.Fatalf("expected user id from context, got %v", seen.UserID)
	}
}

func TestCreateSaleRejectsNonPositiveQuantity(t *testing.T) {
	svc := stubSalesService{createFn: func(context.Context, sales.CreateInput) (*sales.CreateResult, error) {
		t.Fatal("service should not be called")
		return nil, nil
	}}
	body := []byte(`{"event_id":"evt-1","product_id":"` + uuid.NewString() + `","location_id":"` + uuid.NewString() + `","quantity":"0","unit_type":"bottle"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	CreateSale(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestConfirmSaleMapsErrors(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "insufficient stock", err: pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock"), status: http.StatusConflict, code: "INSUFFICIENT_STOCK"},
		{name: "already confirmed", err: pkgerrors.New(pkgerrors.CodeInvalidTransition, "sale is not pending"), status: http.StatusConflict, code: "INVALID_TRANSITION"},
		{name: "missing", err: pkgerrors.New(pkgerrors.CodeNotFound, "sale not found"), status: http.StatusNotFound, code: "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := stubSalesService{confirmFn: func(_ context.Context, got uuid.UUID, _ audit.Actor) (*models.SaleTransaction, error) {
				if got != id {
					t.Fatalf("expected id %s got %s", id, got)
				}
				return nil, tc.err
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/"+id.String()+"/confirm", nil)
			req = withURLParams(req, map[string]string{"transactionId": id.String()})
			rec := httptest.NewRecorder()

			ConfirmSale(svc, nil).ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			if code := errorCode(t, rec); code != tc.code {
				t.Fatalf("expected code %s got %s", tc.code, code)
			}
		})
	}
}

func TestCancelSaleInvalidID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/nope/cancel", nil)
	req = withURLParams(req, map[string]string{"transactionId": "nope"})
	rec := httptest.NewRecorder()

	CancelSale(stubSalesService{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestListPendingSalesPassesFilters(t *testing.T) {
	locationID := uuid.New()
	svc := stubSalesService{pendingFn: func(_ context.Context, got *uuid.UUID, params pagination.Params) (pagination.Page[models.SaleTransaction], error) {
		if got == nil || *got != locationID {
			t.Fatalf("expected location filter %s got %v", locationID, got)
		}
		if params.Limit != 5 || params.Cursor != "abc" {
			t.Fatalf("unexpected params %+v", params)
		}
		return pagination.Page[models.SaleTransaction]{Items: []models.SaleTransaction{{ID: uuid.New()}}}, nil
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales/pending?location_id="+locationID.String()+"&limit=5&cursor=abc", nil)
	rec := httptest.NewRecorder()

	ListPendingSales(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSalesServiceUnavailable(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales/pending", nil)
	rec := httptest.NewRecorder()

	ListPendingSales(nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}

func TestTerminalSaleConfirmsPendingAtTerminalLocation(t *testing.T) {
	terminal := &models.Terminal{ID: uuid.New(), Code: "POS-01", LocationID: uuid.New(), IsActive: true}
	saleID := uuid.New()
	var confirmed bool
	svc := stubSalesService{
		createFn: func(_ context.Context, input sales.CreateInput) (*sales.CreateResult, error) {
			if input.LocationID != terminal.LocationID {
				t.Fatalf("expected terminal location %s got %s", terminal.LocationID, input.LocationID)
			}
			if input.TerminalID == nil || *input.TerminalID != terminal.ID {
				t.Fatalf("expected terminal id on input")
			}
			return &sales.CreateResult{
				Transaction: &models.SaleTransaction{ID: saleID, Status: enums.SaleStatusPending},
				Created:     true,
			}, nil
		},
		confirmFn: func(_ context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error) {
			confirmed = true
			if actor.TerminalCode != "POS-01" {
				t.Fatalf("expected terminal actor, got %+v", actor)
			}
			return &models.SaleTransaction{ID: id, Status: enums.SaleStatusConfirmed}, nil
		},
	}
	body := []byte(`{"event_id":"pos-1","product_id":"` + uuid.NewString() + `","quantity":"1","unit_type":"bottle"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminal/sales", bytes.NewReader(body))
	req = req.WithContext(middleware.WithTerminal(req.Context(), terminal))
	rec := httptest.NewRecorder()

	TerminalSale(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if !confirmed {
		t.Fatal("expected pending sale to be confirmed")
	}
	var envelope struct {
		Data terminalSaleResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Transaction.Status != enums.SaleStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", envelope.Data.Transaction.Status)
	}
}

func TestTerminalSaleRequiresTerminalContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminal/sales", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	TerminalSale(stubSalesService{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}
