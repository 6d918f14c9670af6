package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbook/internal/ledger"
	"meetbook/internal/ledger/ledgertest"
	"meetbook/internal/model"
)

func TestMemoryStore_Contract(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		return ledger.NewMemoryStore()
	})
}

func TestMemoryStore_FaultInjection(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewMemoryStore()
	require.NoError(t, s.Append(ctx, ledger.TableBookings, ledger.Row{"1"}))

	s.Fail(ledger.OpAppend, errors.New("locked by another process"))
	err := s.Append(ctx, ledger.TableBookings, ledger.Row{"2"}, ledger.Row{"3"})
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)

	rows, err := s.ReadAll(ctx, ledger.TableBookings)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	s.Fail(ledger.OpProbe, errors.New("read only"))
	assert.ErrorIs(t, s.Probe(ctx), model.ErrStorageUnavailable)

	s.Fail(ledger.OpAppend, nil)
	s.Fail(ledger.OpProbe, nil)
	assert.NoError(t, s.Append(ctx, ledger.TableBookings, ledger.Row{"2"}))
	assert.NoError(t, s.Probe(ctx))
}

func TestMemoryStore_ReadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewMemoryStore()
	require.NoError(t, s.Append(ctx, ledger.TableRooms, ledger.Row{"A201"}))

	rows, err := s.ReadAll(ctx, ledger.TableRooms)
	require.NoError(t, err)
	rows[0][0] = "changed"

	again, err := s.ReadAll(ctx, ledger.TableRooms)
	require.NoError(t, err)
	assert.Equal(t, "A201", again[0].Cell(0))
}
