package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LockStatusHolding is the only status a soft lock row carries.
const LockStatusHolding = "HOLDING"

// Room is a bookable meeting room from the catalog.
type Room struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	Usage              string `json:"usage" yaml:"usage"`
	Disabled           bool   `json:"disabled" yaml:"disabled"`
	ExternallyBookable bool   `json:"externally_bookable" yaml:"externally_bookable"`
}

// Bookable reports whether the room may take ad-hoc bookings.
func (r Room) Bookable() bool {
	return !r.Disabled && r.ExternallyBookable
}

// Slot is a fixed time interval of the daily schedule.
type Slot struct {
	ID       int    `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"` // "09:00–10:00"
	Disabled bool   `json:"disabled" yaml:"disabled"`
}

// Booking is a one-off confirmed reservation.
type Booking struct {
	ID          int64   `json:"id"`
	Date        Date    `json:"date"`
	SlotIDs     SlotIDs `json:"slot_ids"`
	RoomID      string  `json:"room_id"`
	RequesterID string  `json:"requester_id"`
	Purpose     string  `json:"purpose"`
	Canceled    bool    `json:"canceled"`
}

// RecurringBooking reserves one slot of a room on a weekday, every week.
type RecurringBooking struct {
	ID          int64   `json:"id"`
	Weekday     Weekday `json:"weekday"`
	SlotID      int     `json:"slot_id"`
	RoomID      string  `json:"room_id"`
	RequesterID string  `json:"requester_id"`
	Purpose     string  `json:"purpose"`
	Canceled    bool    `json:"canceled"`
}

// SoftLock is a transient hold on one slot of a room, owned by a workflow token.
type SoftLock struct {
	Token     string    `json:"token"`
	Date      Date      `json:"date"`
	SlotID    int       `json:"slot_id"`
	RoomID    string    `json:"room_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// LiveAt reports whether the lock is still held at now for the given TTL.
func (l SoftLock) LiveAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.CreatedAt) < ttl
}

// SlotIDs is a sorted set of slot ids.
type SlotIDs []int

// NewSlotIDs sorts and deduplicates ids.
func NewSlotIDs(ids ...int) SlotIDs {
	if len(ids) == 0 {
		return nil
	}
	out := make(SlotIDs, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// ParseSlotIDs parses the comma-joined ledger form "1,2,3".
func ParseSlotIDs(s string) (SlotIDs, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid slot id %q", p)
		}
		ids = append(ids, id)
	}
	return NewSlotIDs(ids...), nil
}

func (s SlotIDs) String() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func (s SlotIDs) Contains(id int) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Intersect returns the ids present in both sets.
func (s SlotIDs) Intersect(o SlotIDs) SlotIDs {
	var out SlotIDs
	for _, id := range s {
		if o.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

func (s SlotIDs) Overlaps(o SlotIDs) bool {
	return len(s.Intersect(o)) > 0
}
