// Package httputil holds the JSON request/response helpers shared by handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "payguard/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies read by DecodeAndPrepare.
const maxBodyBytes = 1 << 20

// ErrorResponse is the wire shape of every error the API returns.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Validatable is implemented by request bodies that validate themselves
// after decoding.
type Validatable interface {
	Validate() error
}

// Normalizer is implemented by request bodies that trim or canonicalise
// fields before validation.
type Normalizer interface {
	Normalize()
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status code and error body. Internal errors never
// expose their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	msg := ""
	if de, ok := dErrors.As(err); ok {
		code = de.Code
		msg = de.Message
	}
	status := dErrors.HTTPStatus(code)
	resp := ErrorResponse{Error: string(code)}
	if status < http.StatusInternalServerError {
		resp.ErrorDescription = msg
	}
	if status >= http.StatusInternalServerError {
		// invariant violations and unknown codes surface as internal errors
		resp.Error = string(dErrors.CodeInternal)
	}
	WriteJSON(w, status, resp)
}

// DecodeAndPrepare decodes the JSON body into T, normalises and validates it.
// On failure it writes the error response and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "failed to decode request body",
				"request_id", requestID,
				"error", err,
			)
		}
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, msg))
		return nil, false
	}

	if n, ok := any(&req).(Normalizer); ok {
		n.Normalize()
	}
	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "request validation failed",
					"request_id", requestID,
					"error", err,
				)
			}
			WriteError(w, err)
			return nil, false
		}
	}
	return &req, true
}
