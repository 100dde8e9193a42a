package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prn-tf/userdir/internal/calculator"
	"github.com/prn-tf/userdir/internal/domain"
	"github.com/prn-tf/userdir/internal/service"
)

// APIError is the JSON error envelope returned by the API.
type APIError struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	RequestID      string `json:"request_id,omitempty"`
	HTTPStatusCode int    `json:"-"`
}

// Common API errors.
var (
	ErrMalformedBody = APIError{
		Code:           "MalformedBody",
		Message:        "The request body is not valid JSON for this operation.",
		HTTPStatusCode: http.StatusBadRequest,
	}
	ErrInternal = APIError{
		Code:           "InternalError",
		Message:        "We encountered an internal error. Please try again.",
		HTTPStatusCode: http.StatusInternalServerError,
	}
)

// errorMappings is checked in order; the first sentinel matched by errors.Is wins.
var errorMappings = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrUserNotFound, "UserNotFound", http.StatusNotFound},
	{domain.ErrUserAlreadyExists, "UserAlreadyExists", http.StatusConflict},
	{domain.ErrUserInactive, "UserInactive", http.StatusConflict},
	{domain.ErrEmptyDNI, "InvalidDNI", http.StatusBadRequest},
	{domain.ErrInvalidTimestamp, "InvalidTimestamp", http.StatusBadRequest},
	{domain.ErrDirectoryBusy, "DirectoryBusy", http.StatusServiceUnavailable},
	{domain.ErrPersistence, "PersistenceFailed", http.StatusInternalServerError},
	{domain.ErrMalformedSnapshot, "MalformedSnapshot", http.StatusInternalServerError},
	{service.ErrInvalidInput, "InvalidInput", http.StatusBadRequest},
	{calculator.ErrUnknownOperation, "UnknownOperation", http.StatusBadRequest},
	{calculator.ErrArity, "InvalidArity", http.StatusBadRequest},
	{calculator.ErrInvalidKey, "InvalidKey", http.StatusBadRequest},
	{calculator.ErrInvalidOperand, "InvalidOperand", http.StatusUnprocessableEntity},
	{calculator.ErrNonFinite, "NonFiniteResult", http.StatusUnprocessableEntity},
}

// mapError converts a service error into an APIError.
func mapError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return APIError{Code: m.code, Message: err.Error(), HTTPStatusCode: m.status}
		}
	}
	return ErrInternal
}

// Error implements the error interface so APIError values can be returned
// from decoding helpers.
func (e APIError) Error() string {
	return e.Code + ": " + e.Message
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the JSON error envelope for err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := mapError(err)
	apiErr.RequestID = RequestIDFromContext(r.Context())
	writeJSON(w, apiErr.HTTPStatusCode, apiErr)
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apiErr := ErrMalformedBody
		apiErr.Message = err.Error()
		return apiErr
	}
	return nil
}
