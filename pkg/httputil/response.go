package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/quizhub/accounts/pkg/errors"
	"github.com/quizhub/accounts/pkg/logger"
	"github.com/quizhub/accounts/pkg/validator"
)

// Response is the JSON envelope for every API response. A response may carry
// both Data and Error when a request partially succeeded.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error member of Response.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are sent; an encode failure cannot be reported
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and error envelope. Validation errors carry
// per-field messages; unknown errors are logged and reported as 500 without
// their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	WriteErrorWithData(w, r, err, nil, fallback)
}

// WriteErrorWithData is WriteError with a data member alongside the error.
func WriteErrorWithData(w http.ResponseWriter, r *http.Request, err error, data any, fallback *slog.Logger) {
	requestID := logger.CorrelationIDFromContext(r.Context())
	status, body := classify(err)
	body.RequestID = requestID

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "request failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, Response{Data: data, Error: body})
}

func classify(err error) (int, *ErrorResponse) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return http.StatusBadRequest, &ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		}
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Status, &ErrorResponse{Code: appErr.Code, Message: appErr.Message}
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, &ErrorResponse{Code: "NOT_FOUND", Message: "resource not found"}
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return http.StatusConflict, &ErrorResponse{Code: "ALREADY_EXISTS", Message: "resource already exists"}
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest, &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()}
	}
	return http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields and
// bodies over maxBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.InvalidInput("malformed JSON body: " + err.Error())
	}
	return nil
}
