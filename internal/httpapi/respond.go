package httpapi

import (
	"encoding/json"
	"net/http"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// writeInvalidJSON renders the admin surface's one fixed shape for a body
// that failed to decode, distinct from the generic {code,message} envelope.
func writeInvalidJSON(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
}

// writeServiceError renders err through the shared ServiceError taxonomy so
// its stable code and HTTP status reach the admin surface unchanged.
// InsufficientBalance is special-cased to the documented {error,
// current_balance} shape, flattened out of the Details map, since the admin
// surface doesn't expose the generic {code,message,details} envelope there.
func writeServiceError(w http.ResponseWriter, err error) {
	if svcErr := svcerrors.GetServiceError(err); svcErr != nil {
		if svcErr.Code == svcerrors.ErrCodeInsufficientBalance {
			writeJSON(w, svcErr.HTTPStatus, map[string]interface{}{
				"error":           svcErr.Message,
				"current_balance": svcErr.Details["current_balance"],
			})
			return
		}
		writeJSON(w, svcErr.HTTPStatus, svcErr)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
}
