// Package ledger defines the tabular persistence contract shared by every
// storage backend and a typed view over it.
package ledger

import (
	"context"
	"fmt"
)

// Table names double as sheet names in the workbook backend.
type Table string

const (
	TableBookings  Table = "Schedule"
	TableRecurring Table = "FixedBooking"
	TableSoftLocks Table = "TempLock"
	TableRooms     Table = "MeetingRooms"
	TableSlots     Table = "TimeSlots"
)

var headers = map[Table][]string{
	TableBookings:  {"ID", "Date", "SlotIDs", "RoomID", "RequesterID", "Purpose", "Canceled"},
	TableRecurring: {"ID", "Weekday", "SlotID", "RoomID", "RequesterID", "Purpose", "Canceled"},
	TableSoftLocks: {"Token", "Date", "SlotID", "RoomID", "Status", "Timestamp"},
	TableRooms:     {"RoomID", "Name", "Usage", "Disabled", "ExternallyBookable"},
	TableSlots:     {"SlotID", "Label", "Disabled"},
}

// Tables lists every table in a stable order.
func Tables() []Table {
	return []Table{TableRooms, TableSlots, TableBookings, TableRecurring, TableSoftLocks}
}

// Header returns the column names written as the first row of the table.
func (t Table) Header() []string {
	h := headers[t]
	out := make([]string, len(h))
	copy(out, h)
	return out
}

func (t Table) Valid() bool {
	_, ok := headers[t]
	return ok
}

// CheckTable returns an error for unknown table names.
func CheckTable(t Table) error {
	if !t.Valid() {
		return fmt.Errorf("unknown ledger table %q", t)
	}
	return nil
}

// Row is one data row, header excluded. Cells are kept as text.
type Row []string

// Cell returns column i or "" when the row is short.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Store is the persistence contract. Every failure to read or write is
// reported as model.ErrStorageUnavailable and leaves the table unchanged.
type Store interface {
	// ReadAll returns the ordered rows of table. A missing table has no rows.
	ReadAll(ctx context.Context, table Table) ([]Row, error)
	// Append adds all rows or none.
	Append(ctx context.Context, table Table, rows ...Row) error
	// ReplaceAll atomically swaps the full content of table.
	ReplaceAll(ctx context.Context, table Table, rows []Row) error
	// Probe returns nil when a write would currently succeed.
	Probe(ctx context.Context) error
	Close() error
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = append(Row(nil), r...)
	}
	return out
}
