// Package conflict finds the reservations that collide with a candidate
// booking, across confirmed, recurring and in-progress sources.
package conflict

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"meetbook/internal/ledger"
	"meetbook/internal/model"
	"meetbook/internal/softlock"
)

// DefaultHorizonWeeks bounds how far ahead recurring candidates are checked
// against one-off bookings.
const DefaultHorizonWeeks = 4

type Detector struct {
	ledger       *ledger.Ledger
	locks        *softlock.Manager
	horizonWeeks int
	logger       *zerolog.Logger
}

type Option func(*Detector)

// WithHorizonWeeks sets the look-ahead for weekday checks. Zero means every
// future date.
func WithHorizonWeeks(n int) Option {
	return func(d *Detector) {
		if n >= 0 {
			d.horizonWeeks = n
		}
	}
}

func NewDetector(l *ledger.Ledger, locks *softlock.Manager, logger *zerolog.Logger, opts ...Option) *Detector {
	d := &Detector{
		ledger:       l,
		locks:        locks,
		horizonWeeks: DefaultHorizonWeeks,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) HorizonWeeks() int {
	return d.horizonWeeks
}

func (d *Detector) slotLabels(ctx context.Context) (map[int]string, error) {
	slots, err := d.ledger.Slots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load slot labels: %w", err)
	}
	labels := make(map[int]string, len(slots))
	for _, s := range slots {
		labels[s.ID] = s.Label
	}
	return labels, nil
}

func expand(r model.Reservation, slotIDs model.SlotIDs, labels map[int]string) []model.Conflict {
	var out []model.Conflict
	for _, slot := range r.SlotIDs.Intersect(slotIDs) {
		out = append(out, model.Conflict{
			Source:      r.Source,
			BookingID:   r.BookingID,
			Date:        r.Date,
			Weekday:     r.Weekday,
			SlotID:      slot,
			SlotLabel:   labels[slot],
			RoomID:      r.RoomID,
			RequesterID: r.RequesterID,
			Purpose:     r.Purpose,
		})
	}
	return out
}

// FindBookingConflicts lists confirmed bookings of roomID on date that share a slot with slotIDs.
func (d *Detector) FindBookingConflicts(ctx context.Context, date model.Date, slotIDs model.SlotIDs, roomID string) ([]model.Conflict, error) {
	return d.bookingConflicts(ctx, slotIDs, roomID, func(b model.Booking) bool {
		return b.Date == date
	})
}

// FindBookingConflictsForWeekday lists confirmed bookings of roomID that a
// weekly rule on weekday would collide with. Dates are checked one per week
// starting with the first occurrence of weekday on or after from.
func (d *Detector) FindBookingConflictsForWeekday(ctx context.Context, weekday model.Weekday, slotIDs model.SlotIDs, roomID string, from model.Date) ([]model.Conflict, error) {
	first := weekday.NextOnOrAfter(from)
	var last model.Date
	if d.horizonWeeks > 0 {
		last = first.AddDays(7 * (d.horizonWeeks - 1))
	}
	return d.bookingConflicts(ctx, slotIDs, roomID, func(b model.Booking) bool {
		if b.Date.Weekday() != weekday || b.Date.Before(first) {
			return false
		}
		return last.IsZero() || !b.Date.After(last)
	})
}

func (d *Detector) bookingConflicts(ctx context.Context, slotIDs model.SlotIDs, roomID string, match func(model.Booking) bool) ([]model.Conflict, error) {
	bookings, err := d.ledger.Bookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	labels, err := d.slotLabels(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.Conflict
	for _, b := range bookings {
		if b.Canceled || b.RoomID != roomID || !match(b) {
			continue
		}
		out = append(out, expand(b.Reservation(), slotIDs, labels)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].SlotID < out[j].SlotID
	})
	return out, nil
}

// FindRecurringConflicts lists active recurring rows of roomID on weekday for any slot in slotIDs.
func (d *Detector) FindRecurringConflicts(ctx context.Context, weekday model.Weekday, slotIDs model.SlotIDs, roomID string) ([]model.Conflict, error) {
	rows, err := d.ledger.RecurringBookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recurring bookings: %w", err)
	}
	labels, err := d.slotLabels(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.Conflict
	for _, r := range rows {
		if r.Canceled || r.RoomID != roomID || r.Weekday != weekday {
			continue
		}
		out = append(out, expand(r.Reservation(), slotIDs, labels)...)
	}
	return out, nil
}

// FindHoldConflicts lists live holds of other tokens on any date falling on weekday.
func (d *Detector) FindHoldConflicts(ctx context.Context, weekday model.Weekday, slotIDs model.SlotIDs, roomID, exceptToken string) ([]model.Conflict, error) {
	return d.holdConflicts(ctx, slotIDs, roomID, exceptToken, func(l model.SoftLock) bool {
		return l.Date.Weekday() == weekday
	})
}

// FindDateHoldConflicts lists live holds of other tokens on date.
func (d *Detector) FindDateHoldConflicts(ctx context.Context, date model.Date, slotIDs model.SlotIDs, roomID, exceptToken string) ([]model.Conflict, error) {
	return d.holdConflicts(ctx, slotIDs, roomID, exceptToken, func(l model.SoftLock) bool {
		return l.Date == date
	})
}

func (d *Detector) holdConflicts(ctx context.Context, slotIDs model.SlotIDs, roomID, exceptToken string, match func(model.SoftLock) bool) ([]model.Conflict, error) {
	live, err := d.locks.Live(ctx)
	if err != nil {
		return nil, err
	}
	labels, err := d.slotLabels(ctx)
	if err != nil {
		return nil, err
	}

	// one conflict per (date, slot) even when several holds overlap
	seen := make(map[string]bool)
	var out []model.Conflict
	for _, l := range live {
		if l.RoomID != roomID || !match(l) {
			continue
		}
		if exceptToken != "" && l.Token == exceptToken {
			continue
		}
		for _, c := range expand(l.Reservation(), slotIDs, labels) {
			key := fmt.Sprintf("%s/%d", c.Date, c.SlotID)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out, nil
}
