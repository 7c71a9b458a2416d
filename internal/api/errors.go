package api

import (
	"errors"
	"fmt"
	"net/http"

	"castctl/internal/observability/logging"
)

// Plain-text bodies for client errors.
const (
	msgNoTracks       = "No tracks for that device id."
	msgNoTrack        = "No track for that device id."
	msgUnknownCommand = "Unknown command."
	msgMissingID      = "Missing id field."
)

var errMissingField = errors.New("missing required field")

// RequestError carries the status and plain-text body a failed request
// answers with.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e RequestError) Unwrap() error {
	return e.Err
}

func notFound(message string, err error) RequestError {
	return RequestError{Status: http.StatusNotFound, Message: message, Err: err}
}

func badRequest(message string, err error) RequestError {
	return RequestError{Status: http.StatusBadRequest, Message: message, Err: err}
}

// WriteError answers the request with err. RequestErrors use their own status
// and message; anything else is a controller failure and is logged.
func (h *Handler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr RequestError
	if errors.As(err, &reqErr) {
		writeText(w, reqErr.Status, reqErr.Message)
		return
	}
	logging.FromContext(r.Context(), h.Logger).Error("session controller failed", "error", err)
	writeText(w, http.StatusBadGateway, "Session controller unavailable.")
}
