// Package ledgertest holds the behaviour every ledger.Store backend must share.
package ledgertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbook/internal/ledger"
)

// RunStoreSuite runs the contract checks against stores built by newStore.
// Each subtest gets a fresh store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing table reads empty", func(t *testing.T) {
		s := newStore(t)
		rows, err := s.ReadAll(ctx, ledger.TableSoftLocks)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("append keeps order", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, ledger.TableBookings,
			ledger.Row{"1", "2025/07/29", "1,2", "A201", "U001", "sync", "FALSE"},
			ledger.Row{"2", "2025/07/29", "3", "A201", "U002", "review", "FALSE"},
		))
		require.NoError(t, s.Append(ctx, ledger.TableBookings,
			ledger.Row{"3", "2025/07/30", "1", "B101", "U001", "demo", "TRUE"},
		))

		rows, err := s.ReadAll(ctx, ledger.TableBookings)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "1", rows[0].Cell(0))
		assert.Equal(t, "1,2", rows[0].Cell(2))
		assert.Equal(t, "3", rows[2].Cell(0))
		assert.Equal(t, "TRUE", rows[2].Cell(6))
	})

	t.Run("replace swaps content", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, ledger.TableSoftLocks,
			ledger.Row{"tok-a", "2025/07/29", "1", "A201", "HOLDING", "2025/07/29 09:00:00"},
			ledger.Row{"tok-b", "2025/07/29", "2", "A201", "HOLDING", "2025/07/29 09:00:00"},
		))
		require.NoError(t, s.ReplaceAll(ctx, ledger.TableSoftLocks, []ledger.Row{
			{"tok-b", "2025/07/29", "2", "A201", "HOLDING", "2025/07/29 09:00:00"},
		}))

		rows, err := s.ReadAll(ctx, ledger.TableSoftLocks)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "tok-b", rows[0].Cell(0))

		require.NoError(t, s.ReplaceAll(ctx, ledger.TableSoftLocks, nil))
		rows, err = s.ReadAll(ctx, ledger.TableSoftLocks)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("tables are independent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, ledger.TableRooms, ledger.Row{"A201", "Room A", "", "FALSE", "TRUE"}))
		require.NoError(t, s.Append(ctx, ledger.TableSlots, ledger.Row{"1", "09:00-10:00", "FALSE"}))

		rooms, err := s.ReadAll(ctx, ledger.TableRooms)
		require.NoError(t, err)
		slots, err := s.ReadAll(ctx, ledger.TableSlots)
		require.NoError(t, err)
		assert.Len(t, rooms, 1)
		assert.Len(t, slots, 1)
		assert.Equal(t, "09:00-10:00", slots[0].Cell(1))
	})

	t.Run("unknown table rejected", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReadAll(ctx, ledger.Table("Nope"))
		assert.Error(t, err)
		assert.Error(t, s.Append(ctx, ledger.Table("Nope"), ledger.Row{"x"}))
	})

	t.Run("probe succeeds on healthy store", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Probe(ctx))
	})
}
