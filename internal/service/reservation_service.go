// Package service exposes the reservation operations: availability,
// submission of one-off and recurring bookings, cancellation and holds.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meetbook/internal/availability"
	"meetbook/internal/clock"
	"meetbook/internal/conflict"
	"meetbook/internal/events"
	"meetbook/internal/ledger"
	"meetbook/internal/metrics"
	"meetbook/internal/model"
	"meetbook/internal/softlock"
)

// EventPublisher receives reservation events.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

type ReservationService struct {
	ledger   *ledger.Ledger
	locks    *softlock.Manager
	detector *conflict.Detector
	resolver *availability.Resolver
	clock    clock.Clock
	events   EventPublisher
	logger   *zerolog.Logger

	// writeMu serializes check-then-write sequences issued by this process.
	writeMu sync.Mutex
}

func NewReservationService(
	l *ledger.Ledger,
	locks *softlock.Manager,
	detector *conflict.Detector,
	resolver *availability.Resolver,
	clk clock.Clock,
	publisher EventPublisher,
	logger *zerolog.Logger,
) *ReservationService {
	return &ReservationService{
		ledger:   l,
		locks:    locks,
		detector: detector,
		resolver: resolver,
		clock:    clk,
		events:   publisher,
		logger:   logger,
	}
}

// BookingRequest is a one-off booking submission. Token identifies the
// caller's hold, if any.
type BookingRequest struct {
	Date        model.Date
	SlotIDs     model.SlotIDs
	RoomID      string
	RequesterID string
	Purpose     string
	Token       string
}

// RecurringRequest creates one recurring row per slot.
type RecurringRequest struct {
	Weekday     model.Weekday
	SlotIDs     model.SlotIDs
	RoomID      string
	RequesterID string
	Purpose     string
}

type bookingEvent struct {
	BookingID   int64  `json:"booking_id"`
	Date        string `json:"date"`
	SlotIDs     []int  `json:"slot_ids"`
	RoomID      string `json:"room_id"`
	RequesterID string `json:"requester_id"`
}

type recurringEvent struct {
	BookingIDs  []int64 `json:"booking_ids"`
	Weekday     string  `json:"weekday"`
	SlotIDs     []int   `json:"slot_ids"`
	RoomID      string  `json:"room_id"`
	RequesterID string  `json:"requester_id"`
}

type cancelEvent struct {
	RequesterID string  `json:"requester_id,omitempty"`
	BookingIDs  []int64 `json:"booking_ids"`
	Canceled    int     `json:"canceled"`
}

type holdEvent struct {
	Token  string `json:"token"`
	Date   string `json:"date,omitempty"`
	RoomID string `json:"room_id,omitempty"`
	Rows   int    `json:"rows"`
}

func (s *ReservationService) publish(eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func (s *ReservationService) today() model.Date {
	return model.DateOf(s.clock.Now())
}

// Today is the calendar date of the service clock.
func (s *ReservationService) Today() model.Date {
	return s.today()
}

// Probe reports whether the ledger currently accepts writes.
func (s *ReservationService) Probe(ctx context.Context) error {
	return s.ledger.Probe(ctx)
}

// HoldTTL is how long an acquired hold stays live.
func (s *ReservationService) HoldTTL() time.Duration {
	return s.locks.TTL()
}

func (s *ReservationService) Rooms(ctx context.Context) ([]model.Room, error) {
	return s.ledger.Rooms(ctx)
}

// Slots returns the enabled slots in catalog order.
func (s *ReservationService) Slots(ctx context.Context) ([]model.Slot, error) {
	slots, err := s.ledger.Slots(ctx)
	if err != nil {
		return nil, err
	}
	out := slots[:0]
	for _, slot := range slots {
		if !slot.Disabled {
			out = append(out, slot)
		}
	}
	return out, nil
}

// ValidateSlots checks that slotIDs is non-empty and every slot exists and is enabled.
func (s *ReservationService) ValidateSlots(ctx context.Context, slotIDs model.SlotIDs) error {
	if len(slotIDs) == 0 {
		return model.Invalid("slot_ids", "select at least one slot")
	}
	slots, err := s.ledger.Slots(ctx)
	if err != nil {
		return err
	}
	enabled := make(map[int]bool, len(slots))
	for _, slot := range slots {
		enabled[slot.ID] = !slot.Disabled
	}
	for _, id := range slotIDs {
		on, ok := enabled[id]
		if !ok {
			return model.Invalid("slot_ids", "unknown slot %d", id)
		}
		if !on {
			return model.Invalid("slot_ids", "slot %d is disabled", id)
		}
	}
	return nil
}

// ValidateDate rejects zero dates and dates before today.
func (s *ReservationService) ValidateDate(date model.Date) error {
	if date.IsZero() {
		return model.Invalid("date", "is required")
	}
	if date.Before(s.today()) {
		return model.Invalid("date", "%s is in the past", date)
	}
	return nil
}

func (s *ReservationService) room(ctx context.Context, roomID string) (model.Room, error) {
	if roomID == "" {
		return model.Room{}, model.Invalid("room_id", "is required")
	}
	rooms, err := s.ledger.Rooms(ctx)
	if err != nil {
		return model.Room{}, err
	}
	for _, r := range rooms {
		if r.ID == roomID {
			return r, nil
		}
	}
	return model.Room{}, model.Invalid("room_id", "unknown room %q", roomID)
}

func (s *ReservationService) bookableRoom(ctx context.Context, roomID string) error {
	room, err := s.room(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Bookable() {
		return fmt.Errorf("%w: %s", model.ErrRoomNotBookable, roomID)
	}
	return nil
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return model.Invalid(field, "must not be empty")
	}
	return nil
}

// AvailableRooms lists the rooms free for every slot of slotIDs on date.
func (s *ReservationService) AvailableRooms(ctx context.Context, date model.Date, slotIDs model.SlotIDs) ([]model.RoomAvailability, error) {
	if date.IsZero() {
		return nil, model.Invalid("date", "is required")
	}
	if err := s.ValidateSlots(ctx, slotIDs); err != nil {
		return nil, err
	}
	return s.resolver.AvailableRooms(ctx, date, slotIDs)
}

// AvailableSlots lists the slots of date that have at least one free room.
func (s *ReservationService) AvailableSlots(ctx context.Context, date model.Date) ([]model.SlotAvailability, error) {
	if date.IsZero() {
		return nil, model.Invalid("date", "is required")
	}
	return s.resolver.AvailableSlots(ctx, date)
}

// WeekOverview returns the Monday to Friday grid containing day for the
// rooms of scope.
func (s *ReservationService) WeekOverview(ctx context.Context, day model.Date, scope availability.Scope) (*availability.Overview, error) {
	if day.IsZero() {
		day = s.today()
	}
	return s.resolver.WeekOverview(ctx, day, scope)
}

// confirmedConflicts returns bookings on date plus recurring rows on its weekday.
func (s *ReservationService) confirmedConflicts(ctx context.Context, date model.Date, slotIDs model.SlotIDs, roomID string) ([]model.Conflict, error) {
	booked, err := s.detector.FindBookingConflicts(ctx, date, slotIDs, roomID)
	if err != nil {
		return nil, err
	}
	recurring, err := s.detector.FindRecurringConflicts(ctx, date.Weekday(), slotIDs, roomID)
	if err != nil {
		return nil, err
	}
	return append(booked, recurring...), nil
}

// checkHolds fails with ErrLockRace when another token holds part of the
// triple, unless token itself holds all of it.
func (s *ReservationService) checkHolds(ctx context.Context, token string, date model.Date, slotIDs model.SlotIDs, roomID string) error {
	others, err := s.detector.FindDateHoldConflicts(ctx, date, slotIDs, roomID, token)
	if err != nil {
		return err
	}
	if len(others) == 0 {
		return nil
	}
	if token != "" {
		mine, err := s.locks.HeldBy(ctx, token, date, slotIDs, roomID)
		if err != nil {
			return err
		}
		if mine {
			return nil
		}
	}
	return model.ErrLockRace
}

// SubmitBooking commits a one-off booking and releases the caller's holds.
// A storage failure on the final append leaves those holds in place.
func (s *ReservationService) SubmitBooking(ctx context.Context, req BookingRequest) (id int64, err error) {
	defer func() { metrics.ObserveSubmission("booking", err) }()

	req.SlotIDs = model.NewSlotIDs(req.SlotIDs...)
	if err := s.ValidateDate(req.Date); err != nil {
		return 0, err
	}
	if err := s.ValidateSlots(ctx, req.SlotIDs); err != nil {
		return 0, err
	}
	if err := requireText("requester_id", req.RequesterID); err != nil {
		return 0, err
	}
	if err := requireText("purpose", req.Purpose); err != nil {
		return 0, err
	}
	if err := s.bookableRoom(ctx, req.RoomID); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conflicts, err := s.confirmedConflicts(ctx, req.Date, req.SlotIDs, req.RoomID)
	if err != nil {
		return 0, err
	}
	if len(conflicts) > 0 {
		return 0, &model.ConflictError{Conflicts: conflicts}
	}
	if err := s.checkHolds(ctx, req.Token, req.Date, req.SlotIDs, req.RoomID); err != nil {
		return 0, err
	}

	id, err = s.ledger.NextBookingID(ctx)
	if err != nil {
		return 0, err
	}
	booking := model.Booking{
		ID:          id,
		Date:        req.Date,
		SlotIDs:     req.SlotIDs,
		RoomID:      req.RoomID,
		RequesterID: strings.TrimSpace(req.RequesterID),
		Purpose:     strings.TrimSpace(req.Purpose),
	}
	if err := s.ledger.AppendBooking(ctx, booking); err != nil {
		return 0, fmt.Errorf("commit booking: %w", err)
	}

	if req.Token != "" {
		if n, err := s.locks.Release(ctx, req.Token); err != nil {
			s.logger.Warn().Err(err).Str("token", req.Token).Msg("booking committed but hold release failed")
		} else {
			metrics.AddHolds("released", n)
		}
	}

	s.logger.Info().
		Int64("booking_id", id).
		Str("date", req.Date.String()).
		Str("slots", req.SlotIDs.String()).
		Str("room_id", req.RoomID).
		Str("requester_id", booking.RequesterID).
		Msg("booking committed")
	s.publish(events.BookingCommitted, bookingEvent{
		BookingID:   id,
		Date:        req.Date.String(),
		SlotIDs:     req.SlotIDs,
		RoomID:      req.RoomID,
		RequesterID: booking.RequesterID,
	})
	return id, nil
}

// SubmitRecurringBooking creates one recurring row per slot with consecutive ids.
func (s *ReservationService) SubmitRecurringBooking(ctx context.Context, req RecurringRequest) (ids []int64, err error) {
	defer func() { metrics.ObserveSubmission("recurring", err) }()

	req.SlotIDs = model.NewSlotIDs(req.SlotIDs...)
	if !req.Weekday.IsWorkday() {
		return nil, model.Invalid("weekday", "recurring bookings are limited to Monday through Friday")
	}
	if err := s.ValidateSlots(ctx, req.SlotIDs); err != nil {
		return nil, err
	}
	if err := requireText("requester_id", req.RequesterID); err != nil {
		return nil, err
	}
	if err := requireText("purpose", req.Purpose); err != nil {
		return nil, err
	}
	room, err := s.room(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if room.Disabled {
		return nil, fmt.Errorf("%w: %s is disabled", model.ErrRoomNotBookable, req.RoomID)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	held, err := s.detector.FindHoldConflicts(ctx, req.Weekday, req.SlotIDs, req.RoomID, "")
	if err != nil {
		return nil, err
	}
	if len(held) > 0 {
		return nil, &model.ConflictError{Conflicts: held}
	}

	recurring, err := s.detector.FindRecurringConflicts(ctx, req.Weekday, req.SlotIDs, req.RoomID)
	if err != nil {
		return nil, err
	}
	booked, err := s.detector.FindBookingConflictsForWeekday(ctx, req.Weekday, req.SlotIDs, req.RoomID, s.today())
	if err != nil {
		return nil, err
	}
	if conflicts := append(recurring, booked...); len(conflicts) > 0 {
		return nil, &model.ConflictError{Conflicts: conflicts}
	}

	next, err := s.ledger.NextRecurringID(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]model.RecurringBooking, len(req.SlotIDs))
	ids = make([]int64, len(req.SlotIDs))
	for i, slot := range req.SlotIDs {
		ids[i] = next + int64(i)
		rows[i] = model.RecurringBooking{
			ID:          ids[i],
			Weekday:     req.Weekday,
			SlotID:      slot,
			RoomID:      req.RoomID,
			RequesterID: strings.TrimSpace(req.RequesterID),
			Purpose:     strings.TrimSpace(req.Purpose),
		}
	}
	if err := s.ledger.AppendRecurring(ctx, rows); err != nil {
		return nil, fmt.Errorf("commit recurring booking: %w", err)
	}

	s.logger.Info().
		Ints64("booking_ids", ids).
		Str("weekday", req.Weekday.String()).
		Str("slots", req.SlotIDs.String()).
		Str("room_id", req.RoomID).
		Msg("recurring booking committed")
	s.publish(events.RecurringCommitted, recurringEvent{
		BookingIDs:  ids,
		Weekday:     req.Weekday.String(),
		SlotIDs:     req.SlotIDs,
		RoomID:      req.RoomID,
		RequesterID: strings.TrimSpace(req.RequesterID),
	})
	return ids, nil
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// CancelBookingsByRequester flips the canceled flag of the requester's
// active bookings among bookingIDs. When nothing matches the ledger is not
// written and ErrNotFound is returned.
func (s *ReservationService) CancelBookingsByRequester(ctx context.Context, requesterID string, bookingIDs []int64) (int, error) {
	if err := requireText("requester_id", requesterID); err != nil {
		return 0, err
	}
	if len(bookingIDs) == 0 {
		return 0, model.Invalid("booking_ids", "select at least one booking")
	}
	wanted := idSet(bookingIDs)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.ledger.UpdateBookings(ctx, func(b *model.Booking) bool {
		if b.Canceled || !wanted[b.ID] || b.RequesterID != requesterID {
			return false
		}
		b.Canceled = true
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("cancel bookings: %w", err)
	}
	if n == 0 {
		return 0, model.ErrNotFound
	}

	metrics.AddCancellations("booking", n)
	s.logger.Info().Str("requester_id", requesterID).Int("canceled", n).Msg("bookings canceled")
	s.publish(events.BookingsCanceled, cancelEvent{RequesterID: requesterID, BookingIDs: bookingIDs, Canceled: n})
	return n, nil
}

// CancelRecurringBookings flips the canceled flag of the active recurring rows among bookingIDs.
func (s *ReservationService) CancelRecurringBookings(ctx context.Context, bookingIDs []int64) (int, error) {
	if len(bookingIDs) == 0 {
		return 0, model.Invalid("booking_ids", "select at least one recurring booking")
	}
	wanted := idSet(bookingIDs)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.ledger.UpdateRecurring(ctx, func(r *model.RecurringBooking) bool {
		if r.Canceled || !wanted[r.ID] {
			return false
		}
		r.Canceled = true
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("cancel recurring bookings: %w", err)
	}
	if n == 0 {
		return 0, model.ErrNotFound
	}

	metrics.AddCancellations("recurring", n)
	s.logger.Info().Int("canceled", n).Msg("recurring bookings canceled")
	s.publish(events.RecurringCanceled, cancelEvent{BookingIDs: bookingIDs, Canceled: n})
	return n, nil
}

// AcquireHold re-validates the triple and takes a hold for token. A
// confirmed collision yields a *model.ConflictError; a live hold of another
// token yields model.ErrLockRace.
func (s *ReservationService) AcquireHold(ctx context.Context, token string, date model.Date, slotIDs model.SlotIDs, roomID string) error {
	slotIDs = model.NewSlotIDs(slotIDs...)
	if err := requireText("token", token); err != nil {
		return err
	}
	if err := s.ValidateDate(date); err != nil {
		return err
	}
	if err := s.ValidateSlots(ctx, slotIDs); err != nil {
		return err
	}
	if err := s.bookableRoom(ctx, roomID); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conflicts, err := s.confirmedConflicts(ctx, date, slotIDs, roomID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &model.ConflictError{Conflicts: conflicts}
	}
	others, err := s.detector.FindDateHoldConflicts(ctx, date, slotIDs, roomID, token)
	if err != nil {
		return err
	}
	if len(others) > 0 {
		return model.ErrLockRace
	}
	if err := s.locks.Acquire(ctx, token, date, slotIDs, roomID); err != nil {
		return err
	}

	metrics.AddHolds("acquired", len(slotIDs))
	s.publish(events.HoldAcquired, holdEvent{Token: token, Date: date.String(), RoomID: roomID, Rows: len(slotIDs)})
	return nil
}

// ReleaseHold drops every hold of token. Unknown tokens are a no-op.
func (s *ReservationService) ReleaseHold(ctx context.Context, token string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.locks.Release(ctx, token)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.AddHolds("released", n)
		s.publish(events.HoldReleased, holdEvent{Token: token, Rows: n})
	}
	return nil
}

// SweepExpiredHolds removes holds past their TTL.
func (s *ReservationService) SweepExpiredHolds(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.locks.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	metrics.AddHolds("expired", n)
	return n, nil
}

// UpcomingBookings lists the requester's active bookings from today on,
// ordered by date.
func (s *ReservationService) UpcomingBookings(ctx context.Context, requesterID string) ([]model.Booking, error) {
	if err := requireText("requester_id", requesterID); err != nil {
		return nil, err
	}
	bookings, err := s.ledger.Bookings(ctx)
	if err != nil {
		return nil, err
	}
	today := s.today()
	var out []model.Booking
	for _, b := range bookings {
		if b.Canceled || b.RequesterID != requesterID || b.Date.Before(today) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RecurringBookingsFor lists active recurring rows. An empty requesterID lists all of them.
func (s *ReservationService) RecurringBookingsFor(ctx context.Context, requesterID string) ([]model.RecurringBooking, error) {
	rows, err := s.ledger.RecurringBookings(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.RecurringBooking
	for _, r := range rows {
		if r.Canceled || (requesterID != "" && r.RequesterID != requesterID) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		if out[i].SlotID != out[j].SlotID {
			return out[i].SlotID < out[j].SlotID
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out, nil
}

// IsRetryable reports errors after which the caller may simply try again.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrStorageUnavailable) || errors.Is(err, model.ErrLockRace)
}
