package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"hockey-notifier/pkg/notifier"
)

const maxBodyBytes = 64 << 10

// errorResponse is the error shape of every API error.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, notifier.ErrInvalidIdentity),
		errors.Is(err, notifier.ErrInvalidURL),
		errors.Is(err, notifier.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, notifier.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, notifier.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, notifier.ErrUpstreamUnavailable),
		errors.Is(err, notifier.ErrPrimaryStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// writeError sends the JSON error envelope for err. Internal errors are not
// echoed to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{}
	resp.Error.Code = notifier.Code(err)
	resp.Error.Message = err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error.Message = "internal server error"
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	s.writeJSON(w, status, resp)
}

func errMissing(field string) error {
	return fmt.Errorf("missing %s: %w", field, notifier.ErrInvalidInput)
}

// decodeJSON reads a bounded JSON body into v. Malformed bodies are
// invalid input.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w: %w", notifier.ErrInvalidInput, err)
	}
	return nil
}
