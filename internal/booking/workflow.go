package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meetbook/internal/clock"
	"meetbook/internal/metrics"
	"meetbook/internal/model"
	"meetbook/internal/service"
)

// Reservations is the part of the reservation service the workflow drives.
type Reservations interface {
	Today() model.Date
	Probe(ctx context.Context) error
	HoldTTL() time.Duration
	ValidateDate(date model.Date) error
	ValidateSlots(ctx context.Context, slotIDs model.SlotIDs) error
	AvailableSlots(ctx context.Context, date model.Date) ([]model.SlotAvailability, error)
	AvailableRooms(ctx context.Context, date model.Date, slotIDs model.SlotIDs) ([]model.RoomAvailability, error)
	AcquireHold(ctx context.Context, token string, date model.Date, slotIDs model.SlotIDs, roomID string) error
	ReleaseHold(ctx context.Context, token string) error
	SubmitBooking(ctx context.Context, req service.BookingRequest) (int64, error)
}

// Workflow walks a session from date selection to a committed booking.
type Workflow struct {
	fsm      *FSM
	sessions *SessionStore
	svc      Reservations
	clock    clock.Clock
	logger   *zerolog.Logger
}

type Option func(*Workflow)

// WithSessionTimeout sets how long an idle session survives.
func WithSessionTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		w.sessions = NewSessionStore(d)
	}
}

func NewWorkflow(svc Reservations, clk clock.Clock, logger *zerolog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		fsm:      NewFSM(),
		sessions: NewSessionStore(0),
		svc:      svc,
		clock:    clk,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RoomChoice is returned when the room list has to be shown (again).
type RoomChoice struct {
	Session View                     `json:"session"`
	Rooms   []model.RoomAvailability `json:"rooms"`
}

// SlotChoice is the session after a date was picked, with the slots that
// still have at least one free room on it.
type SlotChoice struct {
	View
	Slots []model.SlotAvailability `json:"slots"`
}

// transition must be called with s.mu held.
func (w *Workflow) transition(s *Session, to State) error {
	if !w.fsm.CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, s.State, to)
	}
	w.logger.Debug().Str("token", s.Token).Str("from", string(s.State)).Str("to", string(to)).Msg("workflow transition")
	s.State = to
	s.UpdatedAt = w.clock.Now()
	metrics.IncWorkflowTransition(string(to))
	return nil
}

// release drops the session's holds. Failures are logged: the holds
// expire on their own.
func (w *Workflow) release(ctx context.Context, s *Session) {
	if err := w.svc.ReleaseHold(ctx, s.Token); err != nil {
		w.logger.Warn().Err(err).Str("token", s.Token).Msg("failed to release hold")
	}
	s.HoldUntil = time.Time{}
}

// expire applies the lazy confirm timeout. Must be called with s.mu held.
func (w *Workflow) expire(ctx context.Context, s *Session) bool {
	if s.State != StateConfirming || s.HoldUntil.IsZero() || w.clock.Now().Before(s.HoldUntil) {
		return false
	}
	w.release(ctx, s)
	_ = w.transition(s, StateAbandoned)
	w.logger.Info().Str("token", s.Token).Msg("confirmation window elapsed, session abandoned")
	return true
}

// lock fetches the session, locks it and applies the confirm timeout.
func (w *Workflow) lock(ctx context.Context, token string) (*Session, error) {
	s := w.sessions.Get(token)
	if s == nil {
		return nil, model.ErrSessionNotFound
	}
	s.mu.Lock()
	if w.expire(ctx, s) {
		s.mu.Unlock()
		return nil, model.ErrSessionExpired
	}
	return s, nil
}

func expect(s *Session, state State) error {
	if s.State != state {
		return fmt.Errorf("%w: session is %s, expected %s", model.ErrInvalidTransition, s.State, state)
	}
	return nil
}

// Start opens a new session. Idle sessions are cleaned up first.
func (w *Workflow) Start(ctx context.Context) View {
	w.Cleanup(ctx)
	s := NewSession(w.clock.Now())
	w.sessions.Put(s)
	w.logger.Debug().Str("token", s.Token).Msg("workflow started")
	return s.Snapshot()
}

// Get returns the current view of a session.
func (w *Workflow) Get(ctx context.Context, token string) (View, error) {
	s, err := w.lock(ctx, token)
	if err != nil {
		return w.viewAfterExpiry(token), err
	}
	defer s.mu.Unlock()
	return s.view(), nil
}

// Cleanup drops idle sessions and releases whatever they still hold.
func (w *Workflow) Cleanup(ctx context.Context) int {
	removed := w.sessions.Cleanup(w.clock.Now())
	for _, s := range removed {
		s.mu.Lock()
		if !s.State.Terminal() {
			w.release(ctx, s)
			s.State = StateAbandoned
		}
		s.mu.Unlock()
	}
	if len(removed) > 0 {
		w.logger.Info().Int("sessions", len(removed)).Msg("idle sessions cleaned up")
	}
	return len(removed)
}

// SelectDate parses raw, checks the date is today or later and that the
// ledger is writable, then moves on to slot selection. A date on which no
// slot has a free room returns ErrFullyBooked and keeps the session here.
func (w *Workflow) SelectDate(ctx context.Context, token, raw string) (SlotChoice, error) {
	s, err := w.lock(ctx, token)
	if err != nil {
		return SlotChoice{}, err
	}
	defer s.mu.Unlock()

	if err := expect(s, StateSelectingDate); err != nil {
		return SlotChoice{View: s.view()}, err
	}
	date, err := model.ParseDate(raw)
	if err != nil {
		return SlotChoice{View: s.view()}, model.Invalid("date", "%v", err)
	}
	if err := w.svc.ValidateDate(date); err != nil {
		return SlotChoice{View: s.view()}, err
	}
	if err := w.svc.Probe(ctx); err != nil {
		return SlotChoice{View: s.view()}, err
	}
	slots, err := w.svc.AvailableSlots(ctx, date)
	if err != nil {
		return SlotChoice{View: s.view()}, err
	}
	if len(slots) == 0 {
		return SlotChoice{View: s.view()}, model.ErrFullyBooked
	}

	s.Date = date
	if err := w.transition(s, StateSelectingSlots); err != nil {
		return SlotChoice{View: s.view()}, err
	}
	return SlotChoice{View: s.view(), Slots: slots}, nil
}

// SelectSlots records the slot selection and returns the rooms that can take
// all of it. Slots are judged one by one first: a slot without any free room
// is rejected, and if the date has filled up meanwhile the session goes back
// to date selection with ErrFullyBooked. Free slots that share no common
// room are rejected too, keeping the session on slot selection.
func (w *Workflow) SelectSlots(ctx context.Context, token string, slotIDs model.SlotIDs) (RoomChoice, error) {
	s, err := w.lock(ctx, token)
	if err != nil {
		return RoomChoice{}, err
	}
	defer s.mu.Unlock()

	slotIDs = model.NewSlotIDs(slotIDs...)
	if err := expect(s, StateSelectingSlots); err != nil {
		return RoomChoice{Session: s.view()}, err
	}
	if err := w.svc.ValidateSlots(ctx, slotIDs); err != nil {
		return RoomChoice{Session: s.view()}, err
	}
	if err := w.svc.Probe(ctx); err != nil {
		return RoomChoice{Session: s.view()}, err
	}

	free, err := w.svc.AvailableSlots(ctx, s.Date)
	if err != nil {
		return RoomChoice{Session: s.view()}, err
	}
	if len(free) == 0 {
		s.SlotIDs = nil
		if err := w.transition(s, StateSelectingDate); err != nil {
			return RoomChoice{Session: s.view()}, err
		}
		return RoomChoice{Session: s.view()}, model.ErrFullyBooked
	}
	if taken := unavailable(slotIDs, free); len(taken) > 0 {
		return RoomChoice{Session: s.view()}, model.Invalid("slot_ids", "slots %s have no free room on %s", taken, s.Date)
	}

	rooms, err := w.svc.AvailableRooms(ctx, s.Date, slotIDs)
	if err != nil {
		return RoomChoice{Session: s.view()}, err
	}
	if len(rooms) == 0 {
		return RoomChoice{Session: s.view(), Rooms: []model.RoomAvailability{}},
			model.Invalid("slot_ids", "no single room is free for all of slots %s", slotIDs)
	}

	s.SlotIDs = slotIDs
	if err := w.transition(s, StateSelectingRoom); err != nil {
		return RoomChoice{Session: s.view()}, err
	}
	return RoomChoice{Session: s.view(), Rooms: rooms}, nil
}

// unavailable returns the ids from want missing in free.
func unavailable(want model.SlotIDs, free []model.SlotAvailability) model.SlotIDs {
	ok := make(map[int]struct{}, len(free))
	for _, f := range free {
		ok[f.SlotID] = struct{}{}
	}
	var missing []int
	for _, id := range want {
		if _, found := ok[id]; !found {
			missing = append(missing, id)
		}
	}
	return model.NewSlotIDs(missing...)
}

// SelectRoom re-validates the room against confirmed bookings and other
// sessions' holds, then takes a hold and opens the confirmation window. On a
// collision the refreshed room list is returned with the error.
func (w *Workflow) SelectRoom(ctx context.Context, token, roomID string) (RoomChoice, error) {
	s, err := w.lock(ctx, token)
	if err != nil {
		return RoomChoice{}, err
	}
	defer s.mu.Unlock()

	if err := expect(s, StateSelectingRoom); err != nil {
		return RoomChoice{Session: s.view()}, err
	}

	if err := w.svc.AcquireHold(ctx, s.Token, s.Date, s.SlotIDs, roomID); err != nil {
		if errors.Is(err, model.ErrConflict) || errors.Is(err, model.ErrLockRace) {
			rooms, listErr := w.svc.AvailableRooms(ctx, s.Date, s.SlotIDs)
			if listErr != nil {
				w.logger.Warn().Err(listErr).Str("token", s.Token).Msg("failed to refresh room list")
			}
			return RoomChoice{Session: s.view(), Rooms: rooms}, err
		}
		return RoomChoice{Session: s.view()}, err
	}

	s.RoomID = roomID
	s.HoldUntil = w.clock.Now().Add(w.svc.HoldTTL())
	if err := w.transition(s, StateConfirming); err != nil {
		return RoomChoice{Session: s.view()}, err
	}
	return RoomChoice{Session: s.view()}, nil
}

// Confirm commits the booking. A conflict sends the session back to room
// selection; a storage failure keeps it confirming with the hold intact.
func (w *Workflow) Confirm(ctx context.Context, token, requesterID, purpose string) (View, error) {
	s, err := w.lock(ctx, token)
	if err != nil {
		return w.viewAfterExpiry(token), err
	}
	defer s.mu.Unlock()

	if err := expect(s, StateConfirming); err != nil {
		return s.view(), err
	}
	if strings.TrimSpace(requesterID) == "" {
		return s.view(), model.Invalid("requester_id", "must not be empty")
	}
	if strings.TrimSpace(purpose) == "" {
		return s.view(), model.Invalid("purpose", "must not be empty")
	}
	s.RequesterID = strings.TrimSpace(requesterID)
	s.Purpose = strings.TrimSpace(purpose)

	id, err := w.svc.SubmitBooking(ctx, service.BookingRequest{
		Date:        s.Date,
		SlotIDs:     s.SlotIDs,
		RoomID:      s.RoomID,
		RequesterID: s.RequesterID,
		Purpose:     s.Purpose,
		Token:       s.Token,
	})
	switch {
	case err == nil:
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrLockRace):
		w.release(ctx, s)
		s.RoomID = ""
		if tErr := w.transition(s, StateSelectingRoom); tErr != nil {
			return s.view(), tErr
		}
		return s.view(), err
	default:
		return s.view(), err
	}

	s.BookingID = id
	s.HoldUntil = time.Time{}
	if err := w.transition(s, StateCommitted); err != nil {
		return s.view(), err
	}
	w.logger.Info().Str("token", s.Token).Int64("booking_id", id).Msg("workflow committed")
	return s.view(), nil
}

func (w *Workflow) viewAfterExpiry(token string) View {
	if s := w.sessions.Get(token); s != nil {
		return s.Snapshot()
	}
	return View{}
}

// Back returns to the previous step, releasing the hold when leaving the
// confirmation step.
func (w *Workflow) Back(ctx context.Context, token string) (View, error) {
	s, err := w.lock(ctx, token)
	if err != nil {
		return w.viewAfterExpiry(token), err
	}
	defer s.mu.Unlock()

	to, ok := backTarget(s.State)
	if !ok {
		return s.view(), fmt.Errorf("%w: cannot go back from %s", model.ErrInvalidTransition, s.State)
	}
	switch s.State {
	case StateConfirming:
		w.release(ctx, s)
		s.RoomID = ""
	case StateSelectingRoom:
		s.SlotIDs = nil
	case StateSelectingSlots:
		s.Date = model.Date{}
	}
	if err := w.transition(s, to); err != nil {
		return s.view(), err
	}
	return s.view(), nil
}

// Abandon ends the session and releases its hold. Abandoning a finished
// session is a no-op.
func (w *Workflow) Abandon(ctx context.Context, token string) (View, error) {
	s := w.sessions.Get(token)
	if s == nil {
		return View{}, model.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State.Terminal() {
		return s.view(), nil
	}
	w.release(ctx, s)
	if err := w.transition(s, StateAbandoned); err != nil {
		return s.view(), err
	}
	w.logger.Debug().Str("token", s.Token).Msg("workflow abandoned")
	return s.view(), nil
}
