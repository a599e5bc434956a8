package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/stockledger-backend/api/responses"
	"github.com/angelmondragon/stockledger-backend/api/validators"
	"github.com/angelmondragon/stockledger-backend/internal/terminals"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

// CreateTerminal registers a terminal. The secret key is only returned here.
func CreateTerminal(svc terminals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "terminal service unavailable"))
			return
		}
		var payload terminals.CreateInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.Code = validators.SanitizeString(payload.Code, 50)
		payload.Actor = actorFromRequest(r)
		registration, err := svc.Create(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, registration)
	}
}

func GetTerminal(svc terminals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "terminal service unavailable"))
			return
		}
		code := strings.TrimSpace(chi.URLParam(r, "code"))
		terminal, err := svc.GetByCode(r.Context(), code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, terminal)
	}
}

type setTerminalActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// SetTerminalActive enables or disables a terminal by code.
func SetTerminalActive(svc terminals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "terminal service unavailable"))
			return
		}
		var payload setTerminalActiveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		terminal, err := svc.GetByCode(r.Context(), strings.TrimSpace(chi.URLParam(r, "code")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetActive(r.Context(), terminal.ID, *payload.IsActive, actorFromRequest(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		terminal.IsActive = *payload.IsActive
		responses.WriteSuccess(w, terminal)
	}
}
