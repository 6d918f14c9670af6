package availability

import (
	"context"
	"fmt"
	"strings"

	"meetbook/internal/model"
)

// Scope selects which rooms an overview covers.
type Scope string

const (
	// ScopeExternal covers bookable rooms with every kind of reservation.
	ScopeExternal Scope = "external"
	// ScopeInternal covers rooms closed to ad-hoc booking and shows only
	// their recurring reservations.
	ScopeInternal Scope = "internal"
)

// ParseScope accepts "external", "internal" or "" (external).
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeExternal:
		return ScopeExternal, nil
	case ScopeInternal:
		return ScopeInternal, nil
	default:
		return "", model.Invalid("scope", "must be %q or %q", ScopeExternal, ScopeInternal)
	}
}

func (sc Scope) includes(room model.Room) bool {
	if sc == ScopeInternal {
		return !room.ExternallyBookable
	}
	return room.Bookable()
}

func (sc Scope) shows(res model.Reservation) bool {
	return sc != ScopeInternal || res.Source == model.SourceRecurring
}

// Overview is the Monday to Friday grid of a week, ready for rendering.
type Overview struct {
	Scope Scope        `json:"scope"`
	Dates []model.Date `json:"dates"`
	Slots []model.Slot `json:"slots"`
	Rooms []model.Room `json:"rooms"`
	Cells []Cell       `json:"cells"`
}

// Cell holds the reservations occupying one (date, slot).
type Cell struct {
	Date         model.Date          `json:"date"`
	SlotID       int                 `json:"slot_id"`
	Reservations []model.Reservation `json:"reservations"`
}

// At returns the reservations for (date, slotID).
func (o *Overview) At(date model.Date, slotID int) []model.Reservation {
	for _, c := range o.Cells {
		if c.Date == date && c.SlotID == slotID {
			return c.Reservations
		}
	}
	return nil
}

// WeekOverview builds the grid for the week containing day. Only enabled
// slots and the rooms of scope are shown; recurring rows are projected onto
// each matching date.
func (r *Resolver) WeekOverview(ctx context.Context, day model.Date, scope Scope) (*Overview, error) {
	rooms, err := r.ledger.Rooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	slots, err := r.ledger.Slots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if scope == "" {
		scope = ScopeExternal
	}
	ov := &Overview{Scope: scope}
	covered := make(map[string]bool)
	for _, room := range rooms {
		if scope.includes(room) {
			ov.Rooms = append(ov.Rooms, room)
			covered[room.ID] = true
		}
	}
	for _, s := range slots {
		if !s.Disabled {
			ov.Slots = append(ov.Slots, s)
		}
	}

	set, err := r.loadReservations(ctx)
	if err != nil {
		return nil, err
	}

	monday := day.StartOfWeek()
	for i := 0; i < 5; i++ {
		date := monday.AddDays(i)
		ov.Dates = append(ov.Dates, date)

		reservations := set.on(date)
		for _, s := range ov.Slots {
			cell := Cell{Date: date, SlotID: s.ID}
			for _, res := range reservations {
				if covered[res.RoomID] && scope.shows(res) && res.SlotIDs.Contains(s.ID) {
					cell.Reservations = append(cell.Reservations, res)
				}
			}
			ov.Cells = append(ov.Cells, cell)
		}
	}
	return ov, nil
}
