package config

import (
	"context"
	"fmt"
	"slices"

	"meetbook/internal/ledger"
	"meetbook/internal/model"
)

// SyncResult summarizes one catalog sync.
type SyncResult struct {
	Rooms         int  `json:"rooms"`
	Slots         int  `json:"slots"`
	DisabledRooms int  `json:"disabled_rooms"`
	DisabledSlots int  `json:"disabled_slots"`
	Changed       bool `json:"changed"`
}

func (r SyncResult) String() string {
	return fmt.Sprintf("%d rooms (%d retired), %d slots (%d retired), changed=%t",
		r.Rooms, r.DisabledRooms, r.Slots, r.DisabledSlots, r.Changed)
}

// SyncCatalog writes the catalog into the MeetingRooms and TimeSlots tables.
// Rooms and slots that disappeared from the file are kept but disabled so
// historic bookings still resolve their names. A table whose content would
// not change is not rewritten.
func SyncCatalog(ctx context.Context, l *ledger.Ledger, c *Catalog) (SyncResult, error) {
	var res SyncResult
	if c == nil {
		return res, fmt.Errorf("catalog is nil")
	}

	current, err := l.Rooms(ctx)
	if err != nil {
		return res, fmt.Errorf("sync rooms: %w", err)
	}
	rooms := append([]model.Room(nil), c.Rooms...)
	seenRooms := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		seenRooms[r.ID] = struct{}{}
	}
	for _, r := range current {
		if _, ok := seenRooms[r.ID]; ok {
			continue
		}
		r.Disabled = true
		rooms = append(rooms, r)
		res.DisabledRooms++
	}
	res.Rooms = len(rooms)
	if !slices.Equal(rooms, current) {
		if err := l.ReplaceRooms(ctx, rooms); err != nil {
			return res, fmt.Errorf("sync rooms: %w", err)
		}
		res.Changed = true
	}

	currentSlots, err := l.Slots(ctx)
	if err != nil {
		return res, fmt.Errorf("sync slots: %w", err)
	}
	slots := append([]model.Slot(nil), c.Slots...)
	seenSlots := make(map[int]struct{}, len(slots))
	for _, s := range slots {
		seenSlots[s.ID] = struct{}{}
	}
	for _, s := range currentSlots {
		if _, ok := seenSlots[s.ID]; ok {
			continue
		}
		s.Disabled = true
		slots = append(slots, s)
		res.DisabledSlots++
	}
	res.Slots = len(slots)
	if !slices.Equal(slots, currentSlots) {
		if err := l.ReplaceSlots(ctx, slots); err != nil {
			return res, fmt.Errorf("sync slots: %w", err)
		}
		res.Changed = true
	}
	return res, nil
}
