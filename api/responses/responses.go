package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

// fallbackBody is written when a payload cannot be marshalled.
var fallbackBody = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}` + "\n")

// detailLogKeys are lifted out of error details into the request log so a
// rejected sale or stock mutation can be traced without parsing the body.
var detailLogKeys = []string{
	"transaction_id",
	"event_id",
	"product_id",
	"location_id",
	"status",
	"available",
	"requested",
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError renders err as the error envelope. Client errors (4xx) expose
// the typed message and are logged at warn; server errors keep the public
// message and are logged with the full error dump.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	clientErr := meta.HTTPStatus < http.StatusInternalServerError

	apiErr := APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
	}
	if clientErr && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		logError(ctx, logg, err, typed, clientErr)
	}

	writeJSON(w, meta.HTTPStatus, ErrorEnvelope{Error: apiErr})
}

func logError(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error, clientErr bool) {
	fields := map[string]any{}
	if details, ok := typed.Details().(map[string]any); ok {
		for _, key := range detailLogKeys {
			if value, ok := details[key]; ok {
				fields[key] = value
			}
		}
	}

	if clientErr {
		fields["error_code"] = typed.Code()
		fields["error"] = err.Error()
		logg.Warn(logg.WithFields(ctx, fields), "request.rejected")
		return
	}

	// code and message are emitted by Logger.Error itself
	dump := pkgerrors.Dump(err).Fields()
	delete(dump, "error")
	delete(dump, "error_code")
	for key, value := range dump {
		fields[key] = value
	}
	logg.Error(logg.WithFields(ctx, fields), "request.error", typed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = fallbackBody
	} else {
		body = append(body, '\n')
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
