package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockledger-backend/api/middleware"
	"github.com/angelmondragon/stockledger-backend/api/responses"
	"github.com/angelmondragon/stockledger-backend/api/validators"
	"github.com/angelmondragon/stockledger-backend/internal/reconciliation"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

// terminalSaleRequest omits location_id; the terminal's own location is used
// when it is absent.
type terminalSaleRequest struct {
	EventID           string          `json:"event_id" validate:"required,max=128"`
	ProductID         uuid.UUID       `json:"product_id" validate:"required"`
	LocationID        *uuid.UUID      `json:"location_id,omitempty"`
	Quantity          decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitType          string          `json:"unit_type" validate:"required,unit"`
	ConvertedQuantity decimal.Decimal `json:"converted_quantity" validate:"gte=0"`
	PricePerUnit      decimal.Decimal `json:"price_per_unit" validate:"gte=0"`
	TotalAmount       decimal.Decimal `json:"total_amount" validate:"gte=0"`
	TerminalTimestamp *time.Time      `json:"terminal_timestamp,omitempty"`
	UserID            *uuid.UUID      `json:"user_id,omitempty"`
}

type reconcileRequest struct {
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`
	Transactions []sales.CreateInput `json:"transactions"`
}

// TerminalSale records and confirms a single terminal sale event. A replayed
// event that already reached a terminal state is returned unchanged.
func TerminalSale(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}
		terminal := middleware.TerminalFromContext(r.Context())
		if terminal == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "terminal context missing"))
			return
		}

		var payload terminalSaleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithEventID(ctx, payload.EventID)
		}

		locationID := terminal.LocationID
		if payload.LocationID != nil && *payload.LocationID != uuid.Nil {
			locationID = *payload.LocationID
		}
		actor := actorFromRequest(r)
		result, err := svc.Create(ctx, sales.CreateInput{
			EventID:           validators.SanitizeString(payload.EventID, 128),
			ProductID:         payload.ProductID,
			LocationID:        locationID,
			Quantity:          payload.Quantity,
			UnitType:          validators.SanitizeString(payload.UnitType, 32),
			ConvertedQuantity: payload.ConvertedQuantity,
			PricePerUnit:      payload.PricePerUnit,
			TotalAmount:       payload.TotalAmount,
			TerminalTimestamp: payload.TerminalTimestamp,
			UserID:            payload.UserID,
			TerminalID:        &terminal.ID,
			Actor:             actor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sale := result.Transaction
		if sale.Status == enums.SaleStatusPending {
			confirmed, err := svc.Confirm(ctx, sale.ID, actor)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			sale = confirmed
		}

		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, terminalSaleResponse{Transaction: sale, Created: result.Created})
	}
}

type terminalSaleResponse struct {
	Transaction *models.SaleTransaction `json:"transaction"`
	Created     bool                    `json:"created"`
}

// TerminalReconcile replays a batch of offline terminal events. Per-item
// failures are reported in the result and do not fail the request.
func TerminalReconcile(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		terminal := middleware.TerminalFromContext(r.Context())
		if terminal == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "terminal context missing"))
			return
		}

		var payload reconcileRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := actorFromRequest(r)
		items := make([]sales.CreateInput, len(payload.Transactions))
		for i, item := range payload.Transactions {
			if item.LocationID == uuid.Nil {
				item.LocationID = terminal.LocationID
			}
			item.TerminalID = &terminal.ID
			item.Actor = actor
			items[i] = item
		}

		result, err := svc.Reconcile(r.Context(), reconciliation.Request{
			TerminalID:   terminal.ID,
			StartTime:    payload.StartTime,
			EndTime:      payload.EndTime,
			Transactions: items,
			Actor:        actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
