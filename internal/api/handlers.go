package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"meetbook/internal/availability"
	"meetbook/internal/model"
	"meetbook/internal/service"
)

type bookingRequest struct {
	Date        string `json:"date" validate:"required"`
	SlotIDs     []int  `json:"slot_ids" validate:"required,min=1,dive,gt=0"`
	RoomID      string `json:"room_id" validate:"required"`
	RequesterID string `json:"requester_id" validate:"required"`
	Purpose     string `json:"purpose" validate:"required"`
	Token       string `json:"token,omitempty"`
}

type recurringRequest struct {
	Weekday     string `json:"weekday" validate:"required"`
	SlotIDs     []int  `json:"slot_ids" validate:"required,min=1,dive,gt=0"`
	RoomID      string `json:"room_id" validate:"required"`
	RequesterID string `json:"requester_id" validate:"required"`
	Purpose     string `json:"purpose" validate:"required"`
}

type cancelBookingsRequest struct {
	RequesterID string  `json:"requester_id" validate:"required"`
	BookingIDs  []int64 `json:"booking_ids" validate:"required,min=1,dive,gt=0"`
}

type cancelRecurringRequest struct {
	BookingIDs []int64 `json:"booking_ids" validate:"required,min=1,dive,gt=0"`
}

type holdRequest struct {
	Token   string `json:"token,omitempty" validate:"omitempty,max=64"`
	Date    string `json:"date" validate:"required"`
	SlotIDs []int  `json:"slot_ids" validate:"required,min=1,dive,gt=0"`
	RoomID  string `json:"room_id" validate:"required"`
}

type holdResponse struct {
	Token      string `json:"token"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func parseDate(raw string) (model.Date, error) {
	d, err := model.ParseDate(raw)
	if err != nil {
		return model.Date{}, model.Invalid("date", "%v", err)
	}
	return d, nil
}

func (s *HTTPServer) handleRooms(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rooms, err := s.svc.Rooms(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	slots, err := s.svc.Slots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

// handleAvailableSlots lists the slots of date that still have a free room.
// GET /api/slots/available?date=2025/07/29
func (s *HTTPServer) handleAvailableSlots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	slots, err := s.svc.AvailableSlots(r.Context(), date)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  date,
		"slots": slots,
	})
}

// handleAvailableRooms lists rooms free for every requested slot.
// GET /api/rooms/available?date=2025/07/29&slots=1,2
func (s *HTTPServer) handleAvailableRooms(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	slotIDs, err := model.ParseSlotIDs(q.Get("slots"))
	if err != nil {
		s.writeError(w, model.Invalid("slots", "%v", err))
		return
	}
	if err := s.svc.ValidateSlots(r.Context(), slotIDs); err != nil {
		s.writeError(w, err)
		return
	}
	rooms, err := s.svc.AvailableRooms(r.Context(), date, slotIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":     date,
		"slot_ids": slotIDs,
		"rooms":    rooms,
	})
}

// handleOverview renders the Mon–Fri grid of the week containing date.
// GET /api/overview?date=2025/07/29&scope=internal
func (s *HTTPServer) handleOverview(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scope, err := availability.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var day model.Date
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		day = d
	}
	overview, err := s.svc.WeekOverview(r.Context(), day, scope)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))
	if requester == "" {
		s.writeError(w, model.Invalid("requester", "is required"))
		return
	}
	bookings, err := s.svc.UpcomingBookings(r.Context(), requester)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req bookingRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.svc.SubmitBooking(r.Context(), service.BookingRequest{
		Date:        date,
		SlotIDs:     model.NewSlotIDs(req.SlotIDs...),
		RoomID:      req.RoomID,
		RequesterID: req.RequesterID,
		Purpose:     req.Purpose,
		Token:       req.Token,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *HTTPServer) handleCancelBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req cancelBookingsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.svc.CancelBookingsByRequester(r.Context(), req.RequesterID, req.BookingIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canceled": n})
}

func (s *HTTPServer) handleListRecurring(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rules, err := s.svc.RecurringBookingsFor(r.Context(), strings.TrimSpace(r.URL.Query().Get("requester")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recurring": rules})
}

func (s *HTTPServer) handleCreateRecurring(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req recurringRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	weekday, err := model.ParseWeekday(req.Weekday)
	if err != nil {
		s.writeError(w, model.Invalid("weekday", "%v", err))
		return
	}
	ids, err := s.svc.SubmitRecurringBooking(r.Context(), service.RecurringRequest{
		Weekday:     weekday,
		SlotIDs:     model.NewSlotIDs(req.SlotIDs...),
		RoomID:      req.RoomID,
		RequesterID: req.RequesterID,
		Purpose:     req.Purpose,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

func (s *HTTPServer) handleCancelRecurring(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req cancelRecurringRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.svc.CancelRecurringBookings(r.Context(), req.BookingIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canceled": n})
}

// handleAcquireHold takes a soft lock outside the workflow. A token is
// generated when the client does not bring one.
func (s *HTTPServer) handleAcquireHold(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req holdRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		s.writeError(w, err)
		return
	}
	token := req.Token
	if token == "" {
		token = uuid.NewString()
	}
	if err := s.svc.AcquireHold(r.Context(), token, date, model.NewSlotIDs(req.SlotIDs...), req.RoomID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, holdResponse{Token: token, TTLSeconds: int(s.svc.HoldTTL().Seconds())})
}

func (s *HTTPServer) handleReleaseHold(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.svc.ReleaseHold(r.Context(), ps.ByName("token")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
