package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"meetbook/internal/model"
)

// Ledger is the typed view over a Store. It holds no state of its own:
// every call goes to the store.
type Ledger struct {
	store  Store
	logger *zerolog.Logger
	loc    *time.Location
}

type Option func(*Ledger)

// WithLocation sets the zone soft lock timestamps are written in.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func New(store Store, logger *zerolog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := &Ledger{store: store, logger: logger, loc: time.Local}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Store() Store {
	return l.store
}

func (l *Ledger) Probe(ctx context.Context) error {
	if err := l.store.Probe(ctx); err != nil {
		return model.Unavailable("probe ledger", err)
	}
	return nil
}

func (l *Ledger) read(ctx context.Context, table Table) ([]Row, error) {
	rows, err := l.store.ReadAll(ctx, table)
	if err != nil {
		return nil, model.Unavailable(fmt.Sprintf("read %s", table), err)
	}
	return rows, nil
}

func (l *Ledger) skip(table Table, idx int, err error) {
	l.logger.Debug().Str("table", string(table)).Int("row", idx+2).Err(err).Msg("skipping malformed ledger row")
}

func decodeAll[T any](ctx context.Context, l *Ledger, table Table, decode func(Row) (T, error)) ([]T, error) {
	rows, err := l.read(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for i, r := range rows {
		if blank(r) {
			continue
		}
		v, err := decode(r)
		if err != nil {
			l.skip(table, i, err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (l *Ledger) Rooms(ctx context.Context) ([]model.Room, error) {
	return decodeAll(ctx, l, TableRooms, decodeRoom)
}

func (l *Ledger) Slots(ctx context.Context) ([]model.Slot, error) {
	return decodeAll(ctx, l, TableSlots, decodeSlot)
}

func (l *Ledger) Bookings(ctx context.Context) ([]model.Booking, error) {
	return decodeAll(ctx, l, TableBookings, decodeBooking)
}

func (l *Ledger) RecurringBookings(ctx context.Context) ([]model.RecurringBooking, error) {
	return decodeAll(ctx, l, TableRecurring, decodeRecurring)
}

func (l *Ledger) SoftLocks(ctx context.Context) ([]model.SoftLock, error) {
	return decodeAll(ctx, l, TableSoftLocks, func(r Row) (model.SoftLock, error) {
		return decodeSoftLock(r, l.loc)
	})
}

func (l *Ledger) append(ctx context.Context, table Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := l.store.Append(ctx, table, rows...); err != nil {
		return model.Unavailable(fmt.Sprintf("append %s", table), err)
	}
	return nil
}

func (l *Ledger) replace(ctx context.Context, table Table, rows []Row) error {
	if err := l.store.ReplaceAll(ctx, table, rows); err != nil {
		return model.Unavailable(fmt.Sprintf("replace %s", table), err)
	}
	return nil
}

func (l *Ledger) AppendBooking(ctx context.Context, b model.Booking) error {
	return l.append(ctx, TableBookings, []Row{encodeBooking(b)})
}

// AppendRecurring writes every row of a recurring rule in one append.
func (l *Ledger) AppendRecurring(ctx context.Context, rows []model.RecurringBooking) error {
	encoded := make([]Row, len(rows))
	for i, r := range rows {
		encoded[i] = encodeRecurring(r)
	}
	return l.append(ctx, TableRecurring, encoded)
}

func (l *Ledger) AppendSoftLocks(ctx context.Context, locks []model.SoftLock) error {
	encoded := make([]Row, len(locks))
	for i, lock := range locks {
		encoded[i] = encodeSoftLock(lock, l.loc)
	}
	return l.append(ctx, TableSoftLocks, encoded)
}

// UpdateBookings applies fn to every decodable booking row and writes the
// table back once if fn changed at least one row. Rows that cannot be
// decoded are written back untouched. Returns the number of changed rows.
func (l *Ledger) UpdateBookings(ctx context.Context, fn func(*model.Booking) bool) (int, error) {
	return update(ctx, l, TableBookings, decodeBooking, encodeBooking, fn)
}

// UpdateRecurring is UpdateBookings for recurring rows.
func (l *Ledger) UpdateRecurring(ctx context.Context, fn func(*model.RecurringBooking) bool) (int, error) {
	return update(ctx, l, TableRecurring, decodeRecurring, encodeRecurring, fn)
}

func update[T any](ctx context.Context, l *Ledger, table Table, decode func(Row) (T, error), encode func(T) Row, fn func(*T) bool) (int, error) {
	rows, err := l.read(ctx, table)
	if err != nil {
		return 0, err
	}
	changed := 0
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
		if blank(r) {
			continue
		}
		v, err := decode(r)
		if err != nil {
			continue
		}
		if fn(&v) {
			out[i] = encode(v)
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := l.replace(ctx, table, out); err != nil {
		return 0, err
	}
	return changed, nil
}

// RemoveSoftLocks compacts the soft lock table, dropping every row for
// which drop returns true. Malformed rows are dropped along with them.
// Nothing is written when no row matches.
func (l *Ledger) RemoveSoftLocks(ctx context.Context, drop func(model.SoftLock) bool) (int, error) {
	rows, err := l.read(ctx, TableSoftLocks)
	if err != nil {
		return 0, err
	}
	removed := 0
	kept := make([]Row, 0, len(rows))
	var malformed int
	for i, r := range rows {
		if blank(r) {
			continue
		}
		lock, err := decodeSoftLock(r, l.loc)
		if err != nil {
			l.skip(TableSoftLocks, i, err)
			malformed++
			continue
		}
		if drop(lock) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := l.replace(ctx, TableSoftLocks, kept); err != nil {
		return 0, err
	}
	if malformed > 0 {
		l.logger.Warn().Int("rows", malformed).Msg("dropped malformed soft lock rows during compaction")
	}
	return removed, nil
}

func (l *Ledger) ReplaceRooms(ctx context.Context, rooms []model.Room) error {
	rows := make([]Row, len(rooms))
	for i, r := range rooms {
		rows[i] = encodeRoom(r)
	}
	return l.replace(ctx, TableRooms, rows)
}

func (l *Ledger) ReplaceSlots(ctx context.Context, slots []model.Slot) error {
	rows := make([]Row, len(slots))
	for i, s := range slots {
		rows[i] = encodeSlot(s)
	}
	return l.replace(ctx, TableSlots, rows)
}

// NextBookingID returns max(existing)+1 over all booking rows, canceled included.
func (l *Ledger) NextBookingID(ctx context.Context) (int64, error) {
	return l.nextID(ctx, TableBookings)
}

func (l *Ledger) NextRecurringID(ctx context.Context) (int64, error) {
	return l.nextID(ctx, TableRecurring)
}

func (l *Ledger) nextID(ctx context.Context, table Table) (int64, error) {
	rows, err := l.read(ctx, table)
	if err != nil {
		return 0, err
	}
	var maxID int64
	for _, r := range rows {
		id, err := parseID(r.Cell(0))
		if err != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	return maxID + 1, nil
}
