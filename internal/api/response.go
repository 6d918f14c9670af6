package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"meetbook/internal/booking"
	"meetbook/internal/metrics"
	"meetbook/internal/model"
)

type errorResponse struct {
	Error     string                   `json:"error"`
	Code      string                   `json:"code"`
	Field     string                   `json:"field,omitempty"`
	Conflicts []conflictView           `json:"conflicts,omitempty"`
	Session   *booking.View            `json:"session,omitempty"`
	Rooms     []model.RoomAvailability `json:"rooms,omitempty"`
}

type conflictView struct {
	model.Conflict
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, model.ErrRoomNotBookable):
		return http.StatusBadRequest, "room_not_bookable"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrFullyBooked):
		return http.StatusConflict, "fully_booked"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, model.ErrLockRace):
		return http.StatusLocked, "lock_race"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, model.ErrSessionExpired):
		return http.StatusGone, "session_expired"
	case errors.Is(err, model.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func errorBody(err error) (int, errorResponse) {
	status, code := statusFor(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	var ve *model.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
		resp.Error = ve.Error()
	}
	var ce *model.ConflictError
	if errors.As(err, &ce) {
		resp.Conflicts = make([]conflictView, len(ce.Conflicts))
		for i, c := range ce.Conflicts {
			resp.Conflicts[i] = conflictView{Conflict: c, Message: c.Message()}
		}
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	return status, resp
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status, resp := errorBody(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

// writeSessionError adds the session (and the refreshed room list, if any)
// to the error body so the client can re-render the current step.
func (s *HTTPServer) writeSessionError(w http.ResponseWriter, err error, v booking.View, rooms []model.RoomAvailability) {
	status, resp := errorBody(err)
	if v.Token != "" {
		resp.Session = &v
	}
	resp.Rooms = rooms
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handle wraps h with request metrics and debug logging.
func (s *HTTPServer) handle(route string, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, ps)
		metrics.IncHTTP(route, rec.status)
		s.logger.Debug().Str("route", route).Str("method", r.Method).Int("status", rec.status).Msg("api request")
	}
}

// mutating is handle plus the per-client rate limit.
func (s *HTTPServer) mutating(route string, h httprouter.Handle) httprouter.Handle {
	return s.handle(route, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !s.limiter.Allow(r) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests", Code: "rate_limited"})
			return
		}
		h(w, r, ps)
	})
}
