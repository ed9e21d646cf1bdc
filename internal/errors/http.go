package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/3leaps/imagequeue/pkg/gateway"
	"github.com/3leaps/imagequeue/pkg/generator"
	"github.com/3leaps/imagequeue/pkg/jobstore"
)

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the error object inside HTTPErrorResponse.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Classify maps err to a status code and envelope. Unknown errors become a
// generic 500 so internal detail never leaks to clients.
func Classify(err error) (int, HTTPError) {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Status, HTTPError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	}

	var ve *gateway.ValidationError
	if stderrors.As(err, &ve) {
		body := HTTPError{Code: CodeValidation, Message: ve.Message}
		if len(ve.Fields) > 0 {
			fields := make(map[string]any, len(ve.Fields))
			for _, f := range ve.Fields {
				fields[f.Path] = f.Message
			}
			body.Details = map[string]any{"fields": fields}
		}
		return http.StatusBadRequest, body
	}

	var pe *generator.ProviderError
	switch {
	case jobstore.IsNotFound(err):
		return http.StatusNotFound, HTTPError{Code: CodeNotFound, Message: "job not found"}
	case jobstore.IsConflict(err):
		return http.StatusConflict, HTTPError{Code: CodeConflict, Message: "job was modified concurrently"}
	case gateway.IsEnqueueError(err):
		return http.StatusServiceUnavailable, HTTPError{Code: CodeServiceUnavailable, Message: "job could not be queued"}
	case jobstore.IsStoreError(err):
		return http.StatusServiceUnavailable, HTTPError{Code: CodeServiceUnavailable, Message: "job store unavailable"}
	case stderrors.As(err, &pe):
		return http.StatusBadGateway, HTTPError{Code: CodeBadGateway, Message: pe.Message}
	}
	return http.StatusInternalServerError, HTTPError{Code: CodeInternal, Message: "internal error"}
}

// RespondWithError writes the envelope for err. The request id is taken from
// the request context.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := Classify(err)
	if r != nil {
		body.RequestID = RequestIDFrom(r.Context())
	}
	WriteError(w, status, body)
}

// WriteError writes body with the given status.
func WriteError(w http.ResponseWriter, status int, body HTTPError) {
	WriteJSON(w, status, HTTPErrorResponse{Error: body})
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
