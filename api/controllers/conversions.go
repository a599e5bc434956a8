package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockledger-backend/api/responses"
	"github.com/angelmondragon/stockledger-backend/api/validators"
	"github.com/angelmondragon/stockledger-backend/internal/units"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

type upsertConversionRequest struct {
	ProductID        uuid.UUID       `json:"product_id" validate:"required"`
	FromUnit         string          `json:"from_unit" validate:"required,unit"`
	ToUnit           string          `json:"to_unit" validate:"required,unit,nefield=FromUnit"`
	ConversionFactor decimal.Decimal `json:"conversion_factor" validate:"gt=0"`
}

type convertRequest struct {
	Quantity decimal.Decimal `json:"quantity" validate:"gte=0"`
	FromUnit string          `json:"from_unit" validate:"required,unit"`
	ToUnit   string          `json:"to_unit" validate:"required,unit"`
}

type convertResponse struct {
	ProductID         uuid.UUID       `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	FromUnit          string          `json:"from_unit"`
	ToUnit            string          `json:"to_unit"`
	ConvertedQuantity decimal.Decimal `json:"converted_quantity"`
}

func UpsertConversion(svc units.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "conversion service unavailable"))
			return
		}
		var payload upsertConversionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conversion, err := svc.Upsert(r.Context(), units.UpsertConversionInput{
			ProductID: payload.ProductID,
			FromUnit:  payload.FromUnit,
			ToUnit:    payload.ToUnit,
			Factor:    payload.ConversionFactor,
			Actor:     actorFromRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conversion)
	}
}

func ListConversions(svc units.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "conversion service unavailable"))
			return
		}
		productID, err := validators.ParseURLUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conversions, err := svc.List(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conversions)
	}
}

// ConvertQuantity previews a conversion without touching stock.
func ConvertQuantity(svc units.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "conversion service unavailable"))
			return
		}
		productID, err := validators.ParseURLUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload convertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		converted, err := svc.Convert(r.Context(), productID, payload.Quantity, payload.FromUnit, payload.ToUnit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, convertResponse{
			ProductID:         productID,
			Quantity:          payload.Quantity,
			FromUnit:          payload.FromUnit,
			ToUnit:            payload.ToUnit,
			ConvertedQuantity: converted,
		})
	}
}
