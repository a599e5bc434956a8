package controllers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockledger-backend/api/responses"
	"github.com/angelmondragon/stockledger-backend/api/validators"
	"github.com/angelmondragon/stockledger-backend/internal/stock"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

type declareStockRequest struct {
	Quantity      decimal.Decimal  `json:"quantity" validate:"gte=0"`
	MinStockLevel *decimal.Decimal `json:"min_stock_level,omitempty"`
	MaxStockLevel *decimal.Decimal `json:"max_stock_level,omitempty"`
}

type stockMutationRequest struct {
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

func stockKey(r *http.Request) (stock.Key, error) {
	productID, err := validators.ParseURLUUID(r, "productId")
	if err != nil {
		return stock.Key{}, err
	}
	locationID, err := validators.ParseURLUUID(r, "locationId")
	if err != nil {
		return stock.Key{}, err
	}
	return stock.Key{ProductID: productID, LocationID: locationID}, nil
}

func GetStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		key, err := stockKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		level, err := svc.Get(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, level)
	}
}

// DeclareStock sets the on-hand quantity for a product at a location.
func DeclareStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		key, err := stockKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload declareStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		level, err := svc.Declare(r.Context(), stock.DeclareInput{
			Key:           key,
			Quantity:      payload.Quantity,
			MinStockLevel: payload.MinStockLevel,
			MaxStockLevel: payload.MaxStockLevel,
			Actor:         actorFromRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, level)
	}
}

func ReserveStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return mutateStock(svc, logg, stock.Service.Reserve)
}

func ReleaseStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return mutateStock(svc, logg, stock.Service.Release)
}

type stockMutation func(svc stock.Service, ctx context.Context, input stock.MutationInput) (*models.StockLevel, error)

func mutateStock(svc stock.Service, logg *logger.Logger, apply stockMutation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}
		key, err := stockKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload stockMutationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		level, err := apply(svc, r.Context(), stock.MutationInput{
			Key:      key,
			Quantity: payload.Quantity,
			Actor:    actorFromRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, level)
	}
}
