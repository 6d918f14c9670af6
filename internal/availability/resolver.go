// Package availability answers which rooms can take a booking and what a
// week looks like.
package availability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"meetbook/internal/ledger"
	"meetbook/internal/model"
	"meetbook/internal/softlock"
)

type Resolver struct {
	ledger *ledger.Ledger
	locks  *softlock.Manager
	logger *zerolog.Logger
}

func NewResolver(l *ledger.Ledger, locks *softlock.Manager, logger *zerolog.Logger) *Resolver {
	return &Resolver{ledger: l, locks: locks, logger: logger}
}

// AvailableRooms returns the bookable rooms that have no confirmed or
// recurring reservation on date for any of slotIDs. Rooms held by an
// in-progress attempt stay in the list flagged SoftLocked. An empty result is
// not an error.
func (r *Resolver) AvailableRooms(ctx context.Context, date model.Date, slotIDs model.SlotIDs) ([]model.RoomAvailability, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := snap.freeRooms(date, slotIDs)

	r.logger.Debug().
		Str("date", date.String()).
		Str("slots", slotIDs.String()).
		Int("rooms", len(out)).
		Msg("availability resolved")
	return out, nil
}

// AvailableSlots returns the enabled slots of date for which at least one
// bookable room is free, each with its own free-room count. Slots are judged
// one at a time, so two listed slots may have no room in common. An empty
// result means the date is fully booked.
func (r *Resolver) AvailableSlots(ctx context.Context, date model.Date) ([]model.SlotAvailability, error) {
	slots, err := r.ledger.Slots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.SlotAvailability, 0, len(slots))
	for _, slot := range slots {
		if slot.Disabled {
			continue
		}
		rooms := snap.freeRooms(date, model.SlotIDs{slot.ID})
		if len(rooms) == 0 {
			continue
		}
		out = append(out, model.SlotAvailability{SlotID: slot.ID, Label: slot.Label, FreeRooms: len(rooms)})
	}

	r.logger.Debug().Str("date", date.String()).Int("slots", len(out)).Msg("slot availability resolved")
	return out, nil
}

// snapshot is one read of everything availability depends on.
type snapshot struct {
	rooms []model.Room
	set   *reservationSet
	live  []model.SoftLock
}

func (r *Resolver) snapshot(ctx context.Context) (*snapshot, error) {
	rooms, err := r.ledger.Rooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	set, err := r.loadReservations(ctx)
	if err != nil {
		return nil, err
	}
	live, err := r.locks.Live(ctx)
	if err != nil {
		return nil, err
	}
	return &snapshot{rooms: rooms, set: set, live: live}, nil
}

func (s *snapshot) freeRooms(date model.Date, slotIDs model.SlotIDs) []model.RoomAvailability {
	taken := make(map[string]bool)
	for _, res := range s.set.on(date) {
		if res.SlotIDs.Overlaps(slotIDs) {
			taken[res.RoomID] = true
		}
	}
	held := make(map[string]bool)
	for _, l := range s.live {
		if l.Date == date && slotIDs.Contains(l.SlotID) {
			held[l.RoomID] = true
		}
	}

	out := make([]model.RoomAvailability, 0, len(s.rooms))
	for _, room := range s.rooms {
		if !room.Bookable() || taken[room.ID] {
			continue
		}
		out = append(out, model.RoomAvailability{
			RoomID:     room.ID,
			Name:       room.Name,
			Usage:      room.Usage,
			SoftLocked: held[room.ID],
		})
	}
	return out
}

type reservationSet struct {
	bookings  []model.Booking
	recurring []model.RecurringBooking
}

func (r *Resolver) loadReservations(ctx context.Context) (*reservationSet, error) {
	bookings, err := r.ledger.Bookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	recurring, err := r.ledger.RecurringBookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recurring bookings: %w", err)
	}
	return &reservationSet{bookings: bookings, recurring: recurring}, nil
}

// on returns the active bookings and recurring rows occupying date.
func (s *reservationSet) on(date model.Date) []model.Reservation {
	var out []model.Reservation
	for _, b := range s.bookings {
		if !b.Canceled && b.Date == date {
			out = append(out, b.Reservation())
		}
	}
	for _, rb := range s.recurring {
		if rb.Canceled {
			continue
		}
		if res := rb.Reservation(); res.OccupiesDate(date) {
			out = append(out, res)
		}
	}
	return out
}
