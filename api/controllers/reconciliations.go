package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger-backend/api/responses"
	"github.com/angelmondragon/stockledger-backend/api/validators"
	"github.com/angelmondragon/stockledger-backend/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

func GetReconciliation(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		id, err := validators.ParseURLUUID(r, "logId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		run, err := svc.GetLog(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, run)
	}
}

// ListReconciliations returns the most recent runs for one terminal.
func ListReconciliations(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		terminalID, err := validators.ParseQueryUUID(r, "terminal_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if terminalID == nil || *terminalID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "terminal_id is required"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		logs, err := svc.ListLogs(r.Context(), *terminalID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, logs)
	}
}
