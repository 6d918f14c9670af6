package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"meetbook/internal/model"
)

// TimestampLayout is the text form of soft lock timestamps. It has whole
// second granularity; see stampSeconds.
const TimestampLayout = "2006/01/02 15:04:05"

// stampSeconds rounds t up to the next whole second so that a stored hold
// never ages faster than the one that was taken.
func stampSeconds(t time.Time) time.Time {
	if s := t.Truncate(time.Second); !s.Equal(t) {
		return s.Add(time.Second)
	}
	return t
}

func formatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func parseBool(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "1", "YES", "Y":
		return true
	default:
		return false
	}
}

func parseID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	// spreadsheets hand numbers back as floats
	s = strings.TrimSuffix(s, ".0")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseSlotID(s string) (int, error) {
	id, err := parseID(s)
	if err != nil {
		return 0, fmt.Errorf("invalid slot id %q", s)
	}
	return int(id), nil
}

func encodeBooking(b model.Booking) Row {
	return Row{
		strconv.FormatInt(b.ID, 10),
		b.Date.String(),
		b.SlotIDs.String(),
		b.RoomID,
		b.RequesterID,
		b.Purpose,
		formatBool(b.Canceled),
	}
}

func decodeBooking(r Row) (model.Booking, error) {
	if len(r) < 4 {
		return model.Booking{}, fmt.Errorf("booking row has %d columns", len(r))
	}
	id, err := parseID(r.Cell(0))
	if err != nil {
		return model.Booking{}, err
	}
	date, err := model.ParseDate(r.Cell(1))
	if err != nil {
		return model.Booking{}, err
	}
	slots, err := model.ParseSlotIDs(r.Cell(2))
	if err != nil {
		return model.Booking{}, err
	}
	return model.Booking{
		ID:          id,
		Date:        date,
		SlotIDs:     slots,
		RoomID:      strings.TrimSpace(r.Cell(3)),
		RequesterID: r.Cell(4),
		Purpose:     r.Cell(5),
		Canceled:    parseBool(r.Cell(6)),
	}, nil
}

func encodeRecurring(b model.RecurringBooking) Row {
	return Row{
		strconv.FormatInt(b.ID, 10),
		b.Weekday.Label(),
		strconv.Itoa(b.SlotID),
		b.RoomID,
		b.RequesterID,
		b.Purpose,
		formatBool(b.Canceled),
	}
}

func decodeRecurring(r Row) (model.RecurringBooking, error) {
	if len(r) < 4 {
		return model.RecurringBooking{}, fmt.Errorf("recurring row has %d columns", len(r))
	}
	id, err := parseID(r.Cell(0))
	if err != nil {
		return model.RecurringBooking{}, err
	}
	weekday, err := model.ParseWeekday(r.Cell(1))
	if err != nil {
		return model.RecurringBooking{}, err
	}
	slot, err := parseSlotID(r.Cell(2))
	if err != nil {
		return model.RecurringBooking{}, err
	}
	return model.RecurringBooking{
		ID:          id,
		Weekday:     weekday,
		SlotID:      slot,
		RoomID:      strings.TrimSpace(r.Cell(3)),
		RequesterID: r.Cell(4),
		Purpose:     r.Cell(5),
		Canceled:    parseBool(r.Cell(6)),
	}, nil
}

func encodeSoftLock(l model.SoftLock, loc *time.Location) Row {
	status := l.Status
	if status == "" {
		status = model.LockStatusHolding
	}
	return Row{
		l.Token,
		l.Date.String(),
		strconv.Itoa(l.SlotID),
		l.RoomID,
		status,
		stampSeconds(l.CreatedAt).In(loc).Format(TimestampLayout),
	}
}

func decodeSoftLock(r Row, loc *time.Location) (model.SoftLock, error) {
	if len(r) < 6 {
		return model.SoftLock{}, fmt.Errorf("soft lock row has %d columns", len(r))
	}
	date, err := model.ParseDate(r.Cell(1))
	if err != nil {
		return model.SoftLock{}, err
	}
	slot, err := parseSlotID(r.Cell(2))
	if err != nil {
		return model.SoftLock{}, err
	}
	created, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(r.Cell(5)), loc)
	if err != nil {
		return model.SoftLock{}, fmt.Errorf("invalid timestamp %q", r.Cell(5))
	}
	return model.SoftLock{
		Token:     r.Cell(0),
		Date:      date,
		SlotID:    slot,
		RoomID:    strings.TrimSpace(r.Cell(3)),
		Status:    r.Cell(4),
		CreatedAt: created,
	}, nil
}

func encodeRoom(room model.Room) Row {
	return Row{room.ID, room.Name, room.Usage, formatBool(room.Disabled), formatBool(room.ExternallyBookable)}
}

func decodeRoom(r Row) (model.Room, error) {
	id := strings.TrimSpace(r.Cell(0))
	if id == "" {
		return model.Room{}, fmt.Errorf("room row without id")
	}
	return model.Room{
		ID:                 id,
		Name:               r.Cell(1),
		Usage:              r.Cell(2),
		Disabled:           parseBool(r.Cell(3)),
		ExternallyBookable: parseBool(r.Cell(4)),
	}, nil
}

func encodeSlot(s model.Slot) Row {
	return Row{strconv.Itoa(s.ID), s.Label, formatBool(s.Disabled)}
}

func decodeSlot(r Row) (model.Slot, error) {
	id, err := parseSlotID(r.Cell(0))
	if err != nil {
		return model.Slot{}, err
	}
	return model.Slot{ID: id, Label: r.Cell(1), Disabled: parseBool(r.Cell(2))}, nil
}

func blank(r Row) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
