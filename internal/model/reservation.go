package model

import "fmt"

// Source tags where an occupying reservation comes from.
type Source string

const (
	SourceBooking   Source = "booking"
	SourceRecurring Source = "recurring"
	SourceSoftLock  Source = "soft_lock"
)

// Reservation is the uniform view of the three booking sources.
// Date is zero for recurring rows; Weekday is always set.
type Reservation struct {
	Source      Source  `json:"source"`
	BookingID   int64   `json:"booking_id,omitempty"`
	Date        Date    `json:"date"`
	Weekday     Weekday `json:"weekday"`
	SlotIDs     SlotIDs `json:"slot_ids"`
	RoomID      string  `json:"room_id"`
	RequesterID string  `json:"requester_id,omitempty"`
	Purpose     string  `json:"purpose,omitempty"`
	Token       string  `json:"-"`
}

func (b Booking) Reservation() Reservation {
	return Reservation{
		Source:      SourceBooking,
		BookingID:   b.ID,
		Date:        b.Date,
		Weekday:     b.Date.Weekday(),
		SlotIDs:     b.SlotIDs,
		RoomID:      b.RoomID,
		RequesterID: b.RequesterID,
		Purpose:     b.Purpose,
	}
}

func (r RecurringBooking) Reservation() Reservation {
	return Reservation{
		Source:      SourceRecurring,
		BookingID:   r.ID,
		Weekday:     r.Weekday,
		SlotIDs:     SlotIDs{r.SlotID},
		RoomID:      r.RoomID,
		RequesterID: r.RequesterID,
		Purpose:     r.Purpose,
	}
}

func (l SoftLock) Reservation() Reservation {
	return Reservation{
		Source:  SourceSoftLock,
		Date:    l.Date,
		Weekday: l.Date.Weekday(),
		SlotIDs: SlotIDs{l.SlotID},
		RoomID:  l.RoomID,
		Token:   l.Token,
	}
}

// OccupiesDate reports whether the reservation applies to d. Recurring
// reservations apply to every date on their weekday.
func (r Reservation) OccupiesDate(d Date) bool {
	if r.Source == SourceRecurring {
		return r.Weekday == d.Weekday()
	}
	return r.Date == d
}

// Conflict is one overlapping (reservation, slot) pair found for a candidate.
type Conflict struct {
	Source      Source  `json:"source"`
	BookingID   int64   `json:"booking_id,omitempty"`
	Date        Date    `json:"date"`
	Weekday     Weekday `json:"weekday"`
	SlotID      int     `json:"slot_id"`
	SlotLabel   string  `json:"slot_label"`
	RoomID      string  `json:"room_id"`
	RequesterID string  `json:"requester_id,omitempty"`
	Purpose     string  `json:"purpose,omitempty"`
}

// Message renders the conflict for display.
func (c Conflict) Message() string {
	label := c.SlotLabel
	if label == "" {
		label = fmt.Sprintf("slot %d", c.SlotID)
	}
	switch c.Source {
	case SourceRecurring:
		return fmt.Sprintf("[recurring] every %s, slot %d (%s), room %s, booked by %s (purpose: %s)",
			c.Weekday, c.SlotID, label, c.RoomID, c.RequesterID, c.Purpose)
	case SourceSoftLock:
		return fmt.Sprintf("[in progress] %s %s, slot %d (%s), room %s is being booked right now",
			c.Weekday, c.Date, c.SlotID, label, c.RoomID)
	default:
		return fmt.Sprintf("[booking] %s, slot %d (%s), room %s, booked by %s (purpose: %s)",
			c.Date, c.SlotID, label, c.RoomID, c.RequesterID, c.Purpose)
	}
}

// RoomAvailability is one entry of an availability listing.
type RoomAvailability struct {
	RoomID     string `json:"room_id"`
	Name       string `json:"name"`
	Usage      string `json:"usage"`
	SoftLocked bool   `json:"soft_locked"`
}

// SlotAvailability is one entry of a per-slot availability listing.
type SlotAvailability struct {
	SlotID    int    `json:"slot_id"`
	Label     string `json:"label"`
	FreeRooms int    `json:"free_rooms"`
}
