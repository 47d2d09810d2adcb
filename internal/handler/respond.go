package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"school-service/internal/admission"
	"school-service/internal/ratelimit"
	"school-service/internal/service"
	"school-service/internal/util"
)

const maxJSONBody = 1 << 20

// responder holds the response helpers shared by every handler.
type responder struct {
	logger           *zap.Logger
	trustProxyHeader bool
}

func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err to a status code. Server errors are logged and
// answered without their text.
func (h responder) respondWithError(w http.ResponseWriter, r *http.Request, err error, message string) {
	statusCode := getStatusCode(err)
	resp := util.ErrorResponse(err.Error(), message)

	var verrs service.ValidationErrors
	var locked *service.LockedError
	switch {
	case errors.As(err, &verrs):
		resp.Error = "validation_failed"
		resp.Data = verrs
	case errors.As(err, &locked):
		resp.Data = map[string]any{"lockedUntil": locked.LockedUntil}
	case statusCode >= http.StatusInternalServerError:
		resp.Error = "internal_error"
		h.logger.Error("HTTP error response",
			util.ErrorField(err),
			util.String("path", r.URL.Path),
			util.String("request_id", middleware.GetReqID(r.Context())))
	}
	if statusCode < http.StatusInternalServerError {
		h.logger.Debug("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message))
	}
	h.respondWithJSON(w, statusCode, resp)
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnknownCollection):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, ratelimit.ErrEmptyIdentifier), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("malformed request body")

// decodeJSON reads one JSON value from the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// client describes the caller for audit events. The address is the key the
// admission pipeline derived when it admitted the request.
func (h responder) client(r *http.Request) service.Client {
	addr := admission.ClientKeyFromContext(r.Context())
	if addr == "" {
		addr = admission.ClientIP(r, h.trustProxyHeader)
	}
	return service.Client{
		Address:   addr,
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetReqID(r.Context()),
	}
}

// actor attributes a change to the caller. There are no sessions, so the
// X-User-ID and X-User-Role headers are taken as declared and only used in
// the audit trail.
func (h responder) actor(r *http.Request) service.Actor {
	return service.Actor{
		ID:     util.Truncate(r.Header.Get("X-User-ID"), 64),
		Role:   util.Truncate(r.Header.Get("X-User-Role"), 16),
		Client: h.client(r),
	}
}
