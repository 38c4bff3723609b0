// Package errors renders failures as the JSON error envelope served by the
// HTTP API and maps library errors to status codes.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/s3contents/pkg/checkpoint"
	"github.com/3leaps/s3contents/pkg/contents"
	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/pathmap"
)

// Error codes carried in HTTPError.Code.
const (
	CodeNotFound              = "NOT_FOUND"
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeCredentialUnavailable = "CREDENTIALS_UNAVAILABLE"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeAlreadyExists         = "ALREADY_EXISTS"
	CodeInvalidArgument       = "INVALID_ARGUMENT"
	CodeContentCorrupt        = "CONTENT_CORRUPT"
	CodeBadGateway            = "BAD_GATEWAY"
	CodePartialFailure        = "PARTIAL_FAILURE"
	CodeTimeout               = "GATEWAY_TIMEOUT"
	CodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
	CodeInternal              = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the body of every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError describes a failed request.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, string) {
	var bulk *contents.BulkError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &bulk):
		return http.StatusMultiStatus, CodePartialFailure
	case errors.Is(err, contents.ErrInvalidArgument),
		errors.Is(err, pathmap.ErrInvalidPath),
		errors.Is(err, checkpoint.ErrInvalidID):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, contents.ErrAlreadyExists):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, contents.ErrContentCorrupt):
		return http.StatusUnprocessableEntity, CodeContentCorrupt
	case objectstore.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case objectstore.IsAccessDenied(err):
		return http.StatusForbidden, CodeAccessDenied
	case objectstore.IsCredentialUnavailable(err):
		return http.StatusServiceUnavailable, CodeCredentialUnavailable
	case objectstore.IsTransient(err):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case objectstore.IsProtocol(err):
		return http.StatusBadGateway, CodeBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondWithError writes the envelope for err. Partial failures of multi-key
// operations carry the per-key report in details.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)

	var details map[string]any
	var bulk *contents.BulkError
	if errors.As(err, &bulk) {
		details = map[string]any{
			"op":        bulk.Op,
			"path":      bulk.Path,
			"succeeded": bulk.Result.Succeeded,
			"failed":    bulk.Result.Failed,
		}
	}

	message := http.StatusText(status)
	if status != http.StatusInternalServerError {
		message = err.Error()
	}
	WriteError(w, r, status, code, message, details)
}

// WriteError writes an error envelope with an explicit status and code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := HTTPErrorResponse{
		Error: HTTPError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	if r != nil {
		resp.Error.RequestID = middleware.GetReqID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// NotFoundHandler answers unknown routes.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusNotFound, CodeNotFound, "route not found: "+r.URL.Path, nil)
}

// MethodNotAllowedHandler answers known routes called with the wrong method.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method "+r.Method+" not allowed on "+r.URL.Path, nil)
}
