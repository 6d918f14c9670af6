package booking

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbook/internal/availability"
	"meetbook/internal/clock"
	"meetbook/internal/conflict"
	"meetbook/internal/ledger"
	"meetbook/internal/model"
	"meetbook/internal/service"
	"meetbook/internal/softlock"
)

var tuesday = model.NewDate(2025, time.July, 29)

type fixture struct {
	store    *ledger.MemoryStore
	ledger   *ledger.Ledger
	clock    *clock.Manual
	svc      *service.ReservationService
	workflow *Workflow
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	store := ledger.NewMemoryStore()
	l := ledger.New(store, &logger, ledger.WithLocation(time.UTC))
	clk := clock.NewManual(time.Date(2025, 7, 29, 9, 0, 0, 0, time.UTC))
	locks := softlock.NewManager(l, clk, &logger)
	svc := service.NewReservationService(l, locks,
		conflict.NewDetector(l, locks, &logger),
		availability.NewResolver(l, locks, &logger),
		clk, nil, &logger)

	require.NoError(t, l.ReplaceRooms(ctx, []model.Room{
		{ID: "A201", Name: "Room A", ExternallyBookable: true},
		{ID: "B101", Name: "Room B", ExternallyBookable: true},
	}))
	require.NoError(t, l.ReplaceSlots(ctx, []model.Slot{
		{ID: 1, Label: "09:00-10:00"},
		{ID: 2, Label: "10:00-11:00"},
	}))

	return &fixture{store: store, ledger: l, clock: clk, svc: svc, workflow: NewWorkflow(svc, clk, &logger, opts...)}
}

// toRoomSelection drives a fresh session up to room selection.
func (f *fixture) toRoomSelection(t *testing.T, slots ...int) string {
	t.Helper()
	ctx := context.Background()
	token := f.workflow.Start(ctx).Token
	_, err := f.workflow.SelectDate(ctx, token, "2025/07/29")
	require.NoError(t, err)
	_, err = f.workflow.SelectSlots(ctx, token, model.NewSlotIDs(slots...))
	require.NoError(t, err)
	return token
}

func (f *fixture) holds(t *testing.T) []ledger.Row {
	t.Helper()
	rows, err := f.store.ReadAll(context.Background(), ledger.TableSoftLocks)
	require.NoError(t, err)
	return rows
}

func TestWorkflow_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	start := f.workflow.Start(ctx)
	assert.Equal(t, StateSelectingDate, start.State)

	dated, err := f.workflow.SelectDate(ctx, start.Token, "2025-07-29")
	require.NoError(t, err)
	assert.Equal(t, StateSelectingSlots, dated.State)
	assert.Equal(t, tuesday, dated.Date)
	assert.Len(t, dated.Slots, 2)

	choice, err := f.workflow.SelectSlots(ctx, start.Token, model.SlotIDs{2, 1})
	require.NoError(t, err)
	assert.Equal(t, StateSelectingRoom, choice.Session.State)
	require.Len(t, choice.Rooms, 2)

	choice, err = f.workflow.SelectRoom(ctx, start.Token, "A201")
	require.NoError(t, err)
	assert.Equal(t, StateConfirming, choice.Session.State)
	require.NotNil(t, choice.Session.HoldUntil)
	assert.Equal(t, f.clock.Now().Add(softlock.DefaultTTL), *choice.Session.HoldUntil)
	assert.Len(t, f.holds(t), 2)

	v, err := f.workflow.Confirm(ctx, start.Token, "U001", "design review")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, v.State)
	assert.Equal(t, int64(1), v.BookingID)
	assert.Empty(t, f.holds(t))

	bookings, err := f.ledger.Bookings(ctx)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, model.SlotIDs{1, 2}, bookings[0].SlotIDs)
	assert.Equal(t, "design review", bookings[0].Purpose)
}

func TestWorkflow_SelectDateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.workflow.Start(ctx).Token

	_, err := f.workflow.SelectDate(ctx, token, "next week")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.workflow.SelectDate(ctx, token, "2025/07/28")
	assert.ErrorIs(t, err, model.ErrValidation)

	f.store.Fail(ledger.OpProbe, errors.New("read only"))
	v, err := f.workflow.SelectDate(ctx, token, "2025/07/29")
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.Equal(t, StateSelectingDate, v.State)
}

func (f *fixture) book(t *testing.T, id int64, date model.Date, roomID string, slots ...int) {
	t.Helper()
	require.NoError(t, f.ledger.AppendBooking(context.Background(), model.Booking{
		ID: id, Date: date, SlotIDs: model.NewSlotIDs(slots...), RoomID: roomID,
	}))
}

func TestWorkflow_SlotsWithoutSharedRoomStayOnSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.book(t, 1, tuesday, "A201", 1)
	f.book(t, 2, tuesday, "B101", 2)

	token := f.workflow.Start(ctx).Token
	dated, err := f.workflow.SelectDate(ctx, token, "2025/07/29")
	require.NoError(t, err)
	assert.Equal(t, []model.SlotAvailability{
		{SlotID: 1, Label: "09:00-10:00", FreeRooms: 1},
		{SlotID: 2, Label: "10:00-11:00", FreeRooms: 1},
	}, dated.Slots)

	choice, err := f.workflow.SelectSlots(ctx, token, model.SlotIDs{1, 2})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.NotErrorIs(t, err, model.ErrFullyBooked)
	assert.Equal(t, StateSelectingSlots, choice.Session.State)
	assert.Empty(t, choice.Rooms)

	choice, err = f.workflow.SelectSlots(ctx, token, model.SlotIDs{1})
	require.NoError(t, err)
	require.Len(t, choice.Rooms, 1)
	assert.Equal(t, "B101", choice.Rooms[0].RoomID)
}

func TestWorkflow_RejectsSlotWithoutFreeRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.book(t, 1, tuesday, "A201", 1)
	f.book(t, 2, tuesday, "B101", 1)

	token := f.workflow.Start(ctx).Token
	dated, err := f.workflow.SelectDate(ctx, token, "2025/07/29")
	require.NoError(t, err)
	require.Len(t, dated.Slots, 1)
	assert.Equal(t, 2, dated.Slots[0].SlotID)

	choice, err := f.workflow.SelectSlots(ctx, token, model.SlotIDs{1, 2})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, err.Error(), "slots 1 have no free room")
	assert.Equal(t, StateSelectingSlots, choice.Session.State)

	choice, err = f.workflow.SelectSlots(ctx, token, model.SlotIDs{2})
	require.NoError(t, err)
	assert.Len(t, choice.Rooms, 2)
}

func TestWorkflow_FullyBookedDateStaysOnDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.book(t, 1, tuesday, "A201", 1, 2)
	f.book(t, 2, tuesday, "B101", 1, 2)

	token := f.workflow.Start(ctx).Token
	dated, err := f.workflow.SelectDate(ctx, token, "2025/07/29")
	assert.ErrorIs(t, err, model.ErrFullyBooked)
	assert.Equal(t, StateSelectingDate, dated.State)
	assert.Empty(t, dated.Slots)

	dated, err = f.workflow.SelectDate(ctx, token, "2025/07/30")
	require.NoError(t, err)
	assert.Equal(t, StateSelectingSlots, dated.State)
	assert.Len(t, dated.Slots, 2)
}

func TestWorkflow_DateFilledMeanwhileGoesBackToDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token := f.workflow.Start(ctx).Token
	_, err := f.workflow.SelectDate(ctx, token, "2025/07/29")
	require.NoError(t, err)

	f.book(t, 1, tuesday, "A201", 1, 2)
	f.book(t, 2, tuesday, "B101", 1, 2)

	choice, err := f.workflow.SelectSlots(ctx, token, model.SlotIDs{1})
	assert.ErrorIs(t, err, model.ErrFullyBooked)
	assert.Equal(t, StateSelectingDate, choice.Session.State)
	assert.Empty(t, choice.Session.SlotIDs)
}

func TestWorkflow_LockRaceBetweenSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.toRoomSelection(t, 1)
	second := f.toRoomSelection(t, 1)

	_, err := f.workflow.SelectRoom(ctx, first, "A201")
	require.NoError(t, err)

	choice, err := f.workflow.SelectRoom(ctx, second, "A201")
	assert.ErrorIs(t, err, model.ErrLockRace)
	assert.Equal(t, StateSelectingRoom, choice.Session.State)
	require.Len(t, choice.Rooms, 2)
	assert.True(t, choice.Rooms[0].SoftLocked)

	choice, err = f.workflow.SelectRoom(ctx, second, "B101")
	require.NoError(t, err)
	assert.Equal(t, StateConfirming, choice.Session.State)
}

func TestWorkflow_ConfirmAfterWindowElapsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.toRoomSelection(t, 1)
	_, err := f.workflow.SelectRoom(ctx, token, "A201")
	require.NoError(t, err)

	f.clock.Advance(softlock.DefaultTTL)
	v, err := f.workflow.Confirm(ctx, token, "U001", "late")
	assert.ErrorIs(t, err, model.ErrSessionExpired)
	assert.Equal(t, StateAbandoned, v.State)
	assert.Empty(t, f.holds(t))

	bookings, err := f.ledger.Bookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestWorkflow_ConfirmStorageFailureKeepsHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.toRoomSelection(t, 1, 2)
	_, err := f.workflow.SelectRoom(ctx, token, "A201")
	require.NoError(t, err)

	f.store.Fail(ledger.OpAppend, errors.New("locked"))
	v, err := f.workflow.Confirm(ctx, token, "U001", "retry me")
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.Equal(t, StateConfirming, v.State)
	assert.Len(t, f.holds(t), 2)

	f.store.Fail(ledger.OpAppend, nil)
	v, err = f.workflow.Confirm(ctx, token, "U001", "retry me")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, v.State)
}

func TestWorkflow_ConfirmValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.toRoomSelection(t, 1)
	_, err := f.workflow.SelectRoom(ctx, token, "A201")
	require.NoError(t, err)

	v, err := f.workflow.Confirm(ctx, token, "U001", " ")
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, StateConfirming, v.State)
}

func TestWorkflow_ConfirmConflictReturnsToRoomSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.toRoomSelection(t, 1)
	_, err := f.workflow.SelectRoom(ctx, token, "A201")
	require.NoError(t, err)

	// a recurring rule lands on the held slot before the user confirms
	require.NoError(t, f.ledger.AppendRecurring(ctx, []model.RecurringBooking{
		{ID: 1, Weekday: model.Tuesday, SlotID: 1, RoomID: "A201", RequesterID: "U009", Purpose: "weekly"},
	}))

	v, err := f.workflow.Confirm(ctx, token, "U001", "planning")
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, StateSelectingRoom, v.State)
	assert.Empty(t, f.holds(t))
}

func TestWorkflow_BackReleasesHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.toRoomSelection(t, 1)
	_, err := f.workflow.SelectRoom(ctx, token, "A201")
	require.NoError(t, err)

	v, err := f.workflow.Back(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StateSelectingRoom, v.State)
	assert.Empty(t, v.RoomID)
	assert.Nil(t, v.HoldUntil)
	assert.Empty(t, f.holds(t))

	v, err = f.workflow.Back(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StateSelectingSlots, v.State)

	v, err = f.workflow.Back(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StateSelectingDate, v.State)

	_, err = f.workflow.Back(ctx, token)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestWorkflow_AbandonIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.toRoomSelection(t, 1)
	_, err := f.workflow.SelectRoom(ctx, token, "A201")
	require.NoError(t, err)

	v, err := f.workflow.Abandon(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, v.State)
	assert.Empty(t, f.holds(t))

	v, err = f.workflow.Abandon(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, v.State)

	_, err = f.workflow.Abandon(ctx, "unknown")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestWorkflow_OutOfOrderSteps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.workflow.Start(ctx).Token

	_, err := f.workflow.SelectRoom(ctx, token, "A201")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = f.workflow.Confirm(ctx, token, "U001", "x")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = f.workflow.SelectDate(ctx, "missing", "2025/07/29")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestWorkflow_CleanupReleasesIdleSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithSessionTimeout(time.Minute))
	token := f.toRoomSelection(t, 1)
	_, err := f.workflow.SelectRoom(ctx, token, "A201")
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	fresh := f.workflow.Start(ctx)
	assert.NotEqual(t, token, fresh.Token)
	assert.Empty(t, f.holds(t))

	_, err = f.workflow.Get(ctx, token)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}
