package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockledger-backend/api/responses"
	"github.com/angelmondragon/stockledger-backend/api/validators"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/pagination"
)

type saleRequest struct {
	EventID           string          `json:"event_id" validate:"required,max=128"`
	ProductID         uuid.UUID       `json:"product_id" validate:"required"`
	LocationID        uuid.UUID       `json:"location_id" validate:"required"`
	Quantity          decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitType          string          `json:"unit_type" validate:"required,unit"`
	ConvertedQuantity decimal.Decimal `json:"converted_quantity" validate:"gte=0"`
	PricePerUnit      decimal.Decimal `json:"price_per_unit" validate:"gte=0"`
	TotalAmount       decimal.Decimal `json:"total_amount" validate:"gte=0"`
	TerminalTimestamp *time.Time      `json:"terminal_timestamp,omitempty"`
	UserID            *uuid.UUID      `json:"user_id,omitempty"`
}

func (p saleRequest) toCreateInput(r *http.Request) sales.CreateInput {
	return sales.CreateInput{
		EventID:           validators.SanitizeString(p.EventID, 128),
		ProductID:         p.ProductID,
		LocationID:        p.LocationID,
		Quantity:          p.Quantity,
		UnitType:          validators.SanitizeString(p.UnitType, 32),
		ConvertedQuantity: p.ConvertedQuantity,
		PricePerUnit:      p.PricePerUnit,
		TotalAmount:       p.TotalAmount,
		TerminalTimestamp: p.TerminalTimestamp,
		UserID:            p.UserID,
		Actor:             actorFromRequest(r),
	}
}

type saleResponse struct {
	Transaction any  `json:"transaction"`
	Created     bool `json:"created"`
}

// CreateSale records a pending sale. Replaying an event id returns the stored
// transaction with 200 instead of 201.
func CreateSale(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}

		var payload saleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithEventID(ctx, payload.EventID)
		}

		input := payload.toCreateInput(r)
		if input.UserID == nil {
			input.UserID = input.Actor.UserID
		}

		result, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, saleResponse{Transaction: result.Transaction, Created: result.Created})
	}
}

func GetSale(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}
		id, err := validators.ParseURLUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sale, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sale)
	}
}

// ListPendingSales pages through pending sales, oldest first.
func ListPendingSales(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}
		locationID, err := validators.ParseQueryUUID(r, "location_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListPending(r.Context(), locationID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func ConfirmSale(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(svc sales.Service, r *http.Request, id uuid.UUID) (any, error) {
		return svc.Confirm(r.Context(), id, actorFromRequest(r))
	})
}

func CancelSale(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(svc sales.Service, r *http.Request, id uuid.UUID) (any, error) {
		return svc.Cancel(r.Context(), id, actorFromRequest(r))
	})
}

type transitionFunc func(svc sales.Service, r *http.Request, id uuid.UUID) (any, error)

func transition(svc sales.Service, logg *logger.Logger, apply transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}
		id, err := validators.ParseURLUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sale, err := apply(svc, r, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sale)
	}
}
