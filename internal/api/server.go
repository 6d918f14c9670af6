// Package api exposes the reservation service and the booking workflow as a
// JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"meetbook/internal/availability"
	"meetbook/internal/booking"
	"meetbook/internal/model"
	"meetbook/internal/service"
)

// Reservations is the service surface served over HTTP.
type Reservations interface {
	Today() model.Date
	HoldTTL() time.Duration
	Rooms(ctx context.Context) ([]model.Room, error)
	Slots(ctx context.Context) ([]model.Slot, error)
	ValidateSlots(ctx context.Context, slotIDs model.SlotIDs) error
	AvailableSlots(ctx context.Context, date model.Date) ([]model.SlotAvailability, error)
	AvailableRooms(ctx context.Context, date model.Date, slotIDs model.SlotIDs) ([]model.RoomAvailability, error)
	WeekOverview(ctx context.Context, day model.Date, scope availability.Scope) (*availability.Overview, error)
	SubmitBooking(ctx context.Context, req service.BookingRequest) (int64, error)
	SubmitRecurringBooking(ctx context.Context, req service.RecurringRequest) ([]int64, error)
	CancelBookingsByRequester(ctx context.Context, requesterID string, bookingIDs []int64) (int, error)
	CancelRecurringBookings(ctx context.Context, bookingIDs []int64) (int, error)
	AcquireHold(ctx context.Context, token string, date model.Date, slotIDs model.SlotIDs, roomID string) error
	ReleaseHold(ctx context.Context, token string) error
	UpcomingBookings(ctx context.Context, requesterID string) ([]model.Booking, error)
	RecurringBookingsFor(ctx context.Context, requesterID string) ([]model.RecurringBooking, error)
}

// RateConfig limits mutating requests per client address. Zero disables it.
type RateConfig struct {
	PerSecond float64
	Burst     int
}

type HTTPServer struct {
	svc      Reservations
	workflow *booking.Workflow
	validate *validator.Validate
	limiter  *clientLimiter
	logger   *zerolog.Logger
}

func NewHTTPServer(svc Reservations, workflow *booking.Workflow, rate RateConfig, logger *zerolog.Logger) *HTTPServer {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &HTTPServer{
		svc:      svc,
		workflow: workflow,
		validate: v,
		limiter:  newClientLimiter(rate),
		logger:   logger,
	}
}

// RegisterRoutes mounts every API route on router.
func (s *HTTPServer) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/rooms", s.handle("rooms", s.handleRooms))
	router.GET("/api/rooms/available", s.handle("rooms_available", s.handleAvailableRooms))
	router.GET("/api/slots", s.handle("slots", s.handleSlots))
	router.GET("/api/slots/available", s.handle("slots_available", s.handleAvailableSlots))
	router.GET("/api/overview", s.handle("overview", s.handleOverview))

	router.GET("/api/bookings", s.handle("bookings_list", s.handleListBookings))
	router.POST("/api/bookings", s.mutating("bookings_create", s.handleCreateBooking))
	router.POST("/api/bookings/cancel", s.mutating("bookings_cancel", s.handleCancelBookings))

	router.GET("/api/recurring", s.handle("recurring_list", s.handleListRecurring))
	router.POST("/api/recurring", s.mutating("recurring_create", s.handleCreateRecurring))
	router.POST("/api/recurring/cancel", s.mutating("recurring_cancel", s.handleCancelRecurring))

	router.POST("/api/holds", s.mutating("holds_acquire", s.handleAcquireHold))
	router.DELETE("/api/holds/:token", s.mutating("holds_release", s.handleReleaseHold))

	router.POST("/api/sessions", s.mutating("sessions_start", s.handleStartSession))
	router.GET("/api/sessions/:token", s.handle("sessions_get", s.handleGetSession))
	router.DELETE("/api/sessions/:token", s.mutating("sessions_abandon", s.handleAbandonSession))
	router.POST("/api/sessions/:token/date", s.mutating("sessions_date", s.handleSessionDate))
	router.POST("/api/sessions/:token/slots", s.mutating("sessions_slots", s.handleSessionSlots))
	router.POST("/api/sessions/:token/room", s.mutating("sessions_room", s.handleSessionRoom))
	router.POST("/api/sessions/:token/confirm", s.mutating("sessions_confirm", s.handleSessionConfirm))
	router.POST("/api/sessions/:token/back", s.mutating("sessions_back", s.handleSessionBack))
}

// Handler returns a router with every API route mounted.
func (s *HTTPServer) Handler() http.Handler {
	router := httprouter.New()
	s.RegisterRoutes(router)
	return router
}

// decode reads a JSON body into dst and runs struct validation.
func (s *HTTPServer) decode(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return model.Invalid("body", "invalid JSON body")
	}
	return s.check(dst)
}

func (s *HTTPServer) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		if field == "" {
			field = fe.StructField()
		}
		return model.Invalid(field, "failed %q validation", fe.Tag())
	}
	return model.Invalid("body", "%v", err)
}
