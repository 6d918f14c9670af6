package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"meetbook/internal/availability"
	"meetbook/internal/clock"
	"meetbook/internal/conflict"
	"meetbook/internal/events"
	"meetbook/internal/ledger"
	"meetbook/internal/model"
	"meetbook/internal/softlock"
)

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p any) error { return m.Called(et, p).Error(0) }

// 2025/07/29 is a Tuesday.
var (
	tuesday   = model.NewDate(2025, time.July, 29)
	wednesday = model.NewDate(2025, time.July, 30)
)

type fixture struct {
	store  *ledger.MemoryStore
	ledger *ledger.Ledger
	locks  *softlock.Manager
	clock  *clock.Manual
	svc    *ReservationService
}

func newFixture(t *testing.T, publisher EventPublisher) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	store := ledger.NewMemoryStore()
	l := ledger.New(store, &logger, ledger.WithLocation(time.UTC))
	clk := clock.NewManual(time.Date(2025, 7, 29, 9, 0, 0, 0, time.UTC))
	locks := softlock.NewManager(l, clk, &logger)
	detector := conflict.NewDetector(l, locks, &logger)
	resolver := availability.NewResolver(l, locks, &logger)

	require.NoError(t, l.ReplaceRooms(ctx, []model.Room{
		{ID: "A201", Name: "Room A", ExternallyBookable: true},
		{ID: "B101", Name: "Room B", ExternallyBookable: true},
		{ID: "C301", Name: "Internal"},
		{ID: "D401", Name: "Closed", Disabled: true, ExternallyBookable: true},
	}))
	require.NoError(t, l.ReplaceSlots(ctx, []model.Slot{
		{ID: 1, Label: "09:00-10:00"},
		{ID: 2, Label: "10:00-11:00"},
		{ID: 3, Label: "11:00-12:00"},
		{ID: 4, Label: "12:00-13:00", Disabled: true},
	}))

	svc := NewReservationService(l, locks, detector, resolver, clk, publisher, &logger)
	return &fixture{store: store, ledger: l, locks: locks, clock: clk, svc: svc}
}

func request(slots ...int) BookingRequest {
	return BookingRequest{
		Date:        tuesday,
		SlotIDs:     model.NewSlotIDs(slots...),
		RoomID:      "A201",
		RequesterID: "U001",
		Purpose:     "sprint planning",
	}
}

func roomIDs(rooms []model.RoomAvailability) []string {
	out := make([]string, len(rooms))
	for i, r := range rooms {
		out[i] = r.RoomID
	}
	return out
}

func TestSubmitBooking_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rooms, err := f.svc.AvailableRooms(ctx, tuesday, model.SlotIDs{1, 2})
	require.NoError(t, err)
	assert.Contains(t, roomIDs(rooms), "A201")

	require.NoError(t, f.svc.AcquireHold(ctx, "tok-1", tuesday, model.SlotIDs{1, 2}, "A201"))

	req := request(1, 2)
	req.Token = "tok-1"
	id, err := f.svc.SubmitBooking(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rows, err := f.store.ReadAll(ctx, ledger.TableBookings)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.Row{"1", "2025/07/29", "1,2", "A201", "U001", "sprint planning", "FALSE"}, rows[0])

	locks, err := f.store.ReadAll(ctx, ledger.TableSoftLocks)
	require.NoError(t, err)
	assert.Empty(t, locks)

	rooms, err = f.svc.AvailableRooms(ctx, tuesday, model.SlotIDs{1, 2})
	require.NoError(t, err)
	assert.NotContains(t, roomIDs(rooms), "A201")
}

func TestSubmitBooking_Disjointness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.SubmitBooking(ctx, request(1, 2))
	require.NoError(t, err)

	_, err = f.svc.SubmitBooking(ctx, request(2, 3))
	var ce *model.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, 2, ce.Conflicts[0].SlotID)
	assert.Equal(t, int64(1), ce.Conflicts[0].BookingID)

	id, err := f.svc.SubmitBooking(ctx, request(3))
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	other := request(1, 2)
	other.RoomID = "B101"
	_, err = f.svc.SubmitBooking(ctx, other)
	require.NoError(t, err)
}

func TestSubmitBooking_LockRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.svc.AcquireHold(ctx, "tok-a", tuesday, model.SlotIDs{2}, "A201"))

	req := request(1, 2)
	req.Token = "tok-b"
	_, err := f.svc.SubmitBooking(ctx, req)
	assert.ErrorIs(t, err, model.ErrLockRace)

	f.clock.Advance(softlock.DefaultTTL - time.Second)
	_, err = f.svc.SubmitBooking(ctx, req)
	assert.ErrorIs(t, err, model.ErrLockRace)

	f.clock.Advance(2 * time.Second)
	_, err = f.svc.SubmitBooking(ctx, req)
	assert.NoError(t, err)
}

func TestSubmitBooking_FirstCommitWinsBetweenHolders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.locks.Acquire(ctx, "tok-a", tuesday, model.SlotIDs{1}, "A201"))
	require.NoError(t, f.locks.Acquire(ctx, "tok-b", tuesday, model.SlotIDs{1}, "A201"))

	a := request(1)
	a.Token = "tok-a"
	_, err := f.svc.SubmitBooking(ctx, a)
	require.NoError(t, err)

	b := request(1)
	b.Token = "tok-b"
	_, err = f.svc.SubmitBooking(ctx, b)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestSubmitBooking_AtomicUnderWriteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.svc.AcquireHold(ctx, "tok", tuesday, model.SlotIDs{1, 2, 3}, "A201"))

	f.store.Fail(ledger.OpAppend, errors.New("workbook is open in another program"))
	req := request(1, 2, 3)
	req.Token = "tok"
	_, err := f.svc.SubmitBooking(ctx, req)
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.True(t, IsRetryable(err))

	bookings, err := f.ledger.Bookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, bookings)

	held, err := f.locks.HeldBy(ctx, "tok", tuesday, model.SlotIDs{1, 2, 3}, "A201")
	require.NoError(t, err)
	assert.True(t, held)

	f.store.Fail(ledger.OpAppend, nil)
	id, err := f.svc.SubmitBooking(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestSubmitBooking_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		mutate func(*BookingRequest)
		want   error
	}{
		{"past date", func(r *BookingRequest) { r.Date = tuesday.AddDays(-1) }, model.ErrValidation},
		{"no date", func(r *BookingRequest) { r.Date = model.Date{} }, model.ErrValidation},
		{"no slots", func(r *BookingRequest) { r.SlotIDs = nil }, model.ErrValidation},
		{"disabled slot", func(r *BookingRequest) { r.SlotIDs = model.SlotIDs{4} }, model.ErrValidation},
		{"unknown slot", func(r *BookingRequest) { r.SlotIDs = model.SlotIDs{9} }, model.ErrValidation},
		{"empty purpose", func(r *BookingRequest) { r.Purpose = "  " }, model.ErrValidation},
		{"empty requester", func(r *BookingRequest) { r.RequesterID = "" }, model.ErrValidation},
		{"unknown room", func(r *BookingRequest) { r.RoomID = "Z999" }, model.ErrValidation},
		{"internal room", func(r *BookingRequest) { r.RoomID = "C301" }, model.ErrRoomNotBookable},
		{"disabled room", func(r *BookingRequest) { r.RoomID = "D401" }, model.ErrRoomNotBookable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(1)
			tt.mutate(&req)
			_, err := f.svc.SubmitBooking(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	bookings, err := f.ledger.Bookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestSubmitBooking_PublishesEvent(t *testing.T) {
	ctx := context.Background()
	bus := new(mockEventBus)
	f := newFixture(t, bus)

	bus.On("PublishJSON", events.BookingCommitted, mock.MatchedBy(func(p bookingEvent) bool {
		return p.BookingID == 1 && p.RoomID == "A201" && p.Date == "2025/07/29"
	})).Return(nil).Once()

	_, err := f.svc.SubmitBooking(ctx, request(1))
	require.NoError(t, err)
	bus.AssertExpectations(t)
}

func TestRecurringBooking_ConflictsWithAdHocOnEveryWeek(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	ids, err := f.svc.SubmitRecurringBooking(ctx, RecurringRequest{
		Weekday: model.Wednesday, SlotIDs: model.SlotIDs{2, 1}, RoomID: "A201", RequesterID: "U009", Purpose: "weekly sync",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	for week := 0; week < 3; week++ {
		req := request(2)
		req.Date = wednesday.AddDays(7 * week)
		_, err := f.svc.SubmitBooking(ctx, req)
		var ce *model.ConflictError
		require.ErrorAs(t, err, &ce, "week %d", week)
		assert.Equal(t, model.SourceRecurring, ce.Conflicts[0].Source)
	}

	thursday := request(2)
	thursday.Date = wednesday.AddDays(1)
	_, err = f.svc.SubmitBooking(ctx, thursday)
	assert.NoError(t, err)
}

func TestRecurringBooking_ConflictsWithExistingBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	req := request(2)
	req.Date = wednesday.AddDays(14)
	_, err := f.svc.SubmitBooking(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.SubmitRecurringBooking(ctx, RecurringRequest{
		Weekday: model.Wednesday, SlotIDs: model.SlotIDs{1, 2}, RoomID: "A201", RequesterID: "U009", Purpose: "weekly",
	})
	var ce *model.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, model.SourceBooking, ce.Conflicts[0].Source)
	assert.Equal(t, wednesday.AddDays(14), ce.Conflicts[0].Date)

	rows, err := f.ledger.RecurringBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecurringBooking_RejectsOverlappingRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	rule := RecurringRequest{Weekday: model.Friday, SlotIDs: model.SlotIDs{3}, RoomID: "B101", RequesterID: "U009", Purpose: "retro"}

	_, err := f.svc.SubmitRecurringBooking(ctx, rule)
	require.NoError(t, err)
	_, err = f.svc.SubmitRecurringBooking(ctx, rule)
	assert.ErrorIs(t, err, model.ErrConflict)

	// internal rooms still take recurring rules
	rule.RoomID = "C301"
	_, err = f.svc.SubmitRecurringBooking(ctx, rule)
	assert.NoError(t, err)
}

func TestRecurringBooking_RaceWithInProgressAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	// an ad-hoc attempt holds A201 slot 2 on a Wednesday three weeks out
	require.NoError(t, f.svc.AcquireHold(ctx, "tok", wednesday.AddDays(21), model.SlotIDs{2}, "A201"))

	w, err := model.ParseWeekday("週三")
	require.NoError(t, err)
	_, err = f.svc.SubmitRecurringBooking(ctx, RecurringRequest{
		Weekday: w, SlotIDs: model.SlotIDs{2}, RoomID: "A201", RequesterID: "U009", Purpose: "weekly",
	})
	var ce *model.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, model.SourceSoftLock, ce.Conflicts[0].Source)

	rows, err := f.ledger.RecurringBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, f.svc.ReleaseHold(ctx, "tok"))
	_, err = f.svc.SubmitRecurringBooking(ctx, RecurringRequest{
		Weekday: w, SlotIDs: model.SlotIDs{2}, RoomID: "A201", RequesterID: "U009", Purpose: "weekly",
	})
	assert.NoError(t, err)
}

func TestRecurringBooking_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.SubmitRecurringBooking(ctx, RecurringRequest{Weekday: model.Saturday, SlotIDs: model.SlotIDs{1}, RoomID: "A201", RequesterID: "U1", Purpose: "x"})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.SubmitRecurringBooking(ctx, RecurringRequest{Weekday: model.Monday, SlotIDs: model.SlotIDs{1}, RoomID: "D401", RequesterID: "U1", Purpose: "x"})
	assert.ErrorIs(t, err, model.ErrRoomNotBookable)

	_, err = f.svc.SubmitRecurringBooking(ctx, RecurringRequest{Weekday: model.Monday, SlotIDs: model.SlotIDs{4}, RoomID: "A201", RequesterID: "U1", Purpose: "x"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCancelBookingsByRequester_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	id, err := f.svc.SubmitBooking(ctx, request(1))
	require.NoError(t, err)

	_, err = f.svc.CancelBookingsByRequester(ctx, "U002", []int64{id})
	assert.ErrorIs(t, err, model.ErrNotFound)

	n, err := f.svc.CancelBookingsByRequester(ctx, "U001", []int64{id, 99})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// nothing left to flip: no write may happen
	f.store.Fail(ledger.OpReplace, errors.New("read only"))
	_, err = f.svc.CancelBookingsByRequester(ctx, "U001", []int64{id})
	assert.ErrorIs(t, err, model.ErrNotFound)

	bookings, err := f.ledger.Bookings(ctx)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.True(t, bookings[0].Canceled)

	// ids are never reused
	f.store.Fail(ledger.OpReplace, nil)
	next, err := f.svc.SubmitBooking(ctx, request(1))
	require.NoError(t, err)
	assert.Equal(t, id+1, next)
}

func TestCancelRecurringBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ids, err := f.svc.SubmitRecurringBooking(ctx, RecurringRequest{
		Weekday: model.Monday, SlotIDs: model.SlotIDs{1, 2}, RoomID: "A201", RequesterID: "U009", Purpose: "weekly",
	})
	require.NoError(t, err)

	n, err := f.svc.CancelRecurringBookings(ctx, ids[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.CancelRecurringBookings(ctx, ids[:1])
	assert.ErrorIs(t, err, model.ErrNotFound)

	active, err := f.svc.RecurringBookingsFor(ctx, "U009")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ids[1], active[0].ID)

	next, err := f.svc.SubmitRecurringBooking(ctx, RecurringRequest{
		Weekday: model.Monday, SlotIDs: model.SlotIDs{1}, RoomID: "A201", RequesterID: "U009", Purpose: "again",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, next)
}

func TestAcquireHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.svc.SubmitBooking(ctx, request(1))
	require.NoError(t, err)

	err = f.svc.AcquireHold(ctx, "tok", tuesday, model.SlotIDs{1, 2}, "A201")
	assert.ErrorIs(t, err, model.ErrConflict)

	require.NoError(t, f.svc.AcquireHold(ctx, "tok", tuesday, model.SlotIDs{2}, "A201"))
	assert.ErrorIs(t, f.svc.AcquireHold(ctx, "other", tuesday, model.SlotIDs{2, 3}, "A201"), model.ErrLockRace)
	assert.NoError(t, f.svc.AcquireHold(ctx, "tok", tuesday, model.SlotIDs{2}, "A201"))

	require.NoError(t, f.svc.ReleaseHold(ctx, "tok"))
	require.NoError(t, f.svc.ReleaseHold(ctx, "tok"))
	assert.NoError(t, f.svc.AcquireHold(ctx, "other", tuesday, model.SlotIDs{2, 3}, "A201"))
}

func TestUpcomingBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.ledger.AppendBooking(ctx, model.Booking{ID: 1, Date: tuesday.AddDays(-7), SlotIDs: model.SlotIDs{1}, RoomID: "A201", RequesterID: "U001"}))
	require.NoError(t, f.ledger.AppendBooking(ctx, model.Booking{ID: 2, Date: tuesday.AddDays(7), SlotIDs: model.SlotIDs{1}, RoomID: "A201", RequesterID: "U001"}))
	require.NoError(t, f.ledger.AppendBooking(ctx, model.Booking{ID: 3, Date: tuesday, SlotIDs: model.SlotIDs{1}, RoomID: "A201", RequesterID: "U001"}))
	require.NoError(t, f.ledger.AppendBooking(ctx, model.Booking{ID: 4, Date: tuesday, SlotIDs: model.SlotIDs{2}, RoomID: "A201", RequesterID: "U001", Canceled: true}))
	require.NoError(t, f.ledger.AppendBooking(ctx, model.Booking{ID: 5, Date: tuesday, SlotIDs: model.SlotIDs{3}, RoomID: "A201", RequesterID: "U002"}))

	got, err := f.svc.UpcomingBookings(ctx, "U001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)
}

func TestSlotsAndOverview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	slots, err := f.svc.Slots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 3)

	_, err = f.svc.SubmitBooking(ctx, request(1))
	require.NoError(t, err)
	ov, err := f.svc.WeekOverview(ctx, model.Date{}, availability.ScopeExternal)
	require.NoError(t, err)
	assert.Len(t, ov.At(tuesday, 1), 1)

	internal, err := f.svc.WeekOverview(ctx, tuesday, availability.ScopeInternal)
	require.NoError(t, err)
	assert.Equal(t, availability.ScopeInternal, internal.Scope)
	require.Len(t, internal.Rooms, 1)
	assert.Equal(t, "C301", internal.Rooms[0].ID)
	assert.Empty(t, internal.At(tuesday, 1), "one-off bookings stay out of the internal view")
}

func TestAvailableSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.ledger.AppendBooking(ctx, model.Booking{ID: 1, Date: tuesday, SlotIDs: model.SlotIDs{1}, RoomID: "A201", RequesterID: "U001"}))
	require.NoError(t, f.ledger.AppendBooking(ctx, model.Booking{ID: 2, Date: tuesday, SlotIDs: model.SlotIDs{1, 2}, RoomID: "B101", RequesterID: "U002"}))

	slots, err := f.svc.AvailableSlots(ctx, tuesday)
	require.NoError(t, err)
	assert.Equal(t, []model.SlotAvailability{
		{SlotID: 2, Label: "10:00-11:00", FreeRooms: 1},
		{SlotID: 3, Label: "11:00-12:00", FreeRooms: 2},
	}, slots)

	_, err = f.svc.AvailableSlots(ctx, model.Date{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSweepExpiredHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.svc.AcquireHold(ctx, "tok", tuesday, model.SlotIDs{1, 2}, "A201"))
	f.clock.Advance(f.svc.HoldTTL())

	n, err := f.svc.SweepExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
