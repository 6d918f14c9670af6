package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSMTransitions(t *testing.T) {
	fsm := NewFSM()

	tests := []struct {
		name        string
		from        State
		to          State
		shouldAllow bool
	}{
		{"date to slots", StateSelectingDate, StateSelectingSlots, true},
		{"slots to room", StateSelectingSlots, StateSelectingRoom, true},
		{"room to confirming", StateSelectingRoom, StateConfirming, true},
		{"confirming to committed", StateConfirming, StateCommitted, true},
		// Back transitions
		{"slots back to date", StateSelectingSlots, StateSelectingDate, true},
		{"room back to slots", StateSelectingRoom, StateSelectingSlots, true},
		{"confirming back to room", StateConfirming, StateSelectingRoom, true},
		{"abandon while confirming", StateConfirming, StateAbandoned, true},
		// Invalid transitions
		{"date to confirming", StateSelectingDate, StateConfirming, false},
		{"slots to committed", StateSelectingSlots, StateCommitted, false},
		{"committed to anything", StateCommitted, StateSelectingDate, false},
		{"abandoned to anything", StateAbandoned, StateSelectingDate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.shouldAllow, fsm.CanTransition(tt.from, tt.to),
				"transition %s -> %s", tt.from, tt.to)
		})
	}
}

func TestSessionStore(t *testing.T) {
	start := time.Date(2025, 7, 29, 9, 0, 0, 0, time.UTC)
	store := NewSessionStore(time.Minute)

	assert.Nil(t, store.Get("missing"))

	s := NewSession(start)
	require.NotEmpty(t, s.Token)
	assert.Equal(t, StateSelectingDate, s.State)
	store.Put(s)
	assert.Same(t, s, store.Get(s.Token))

	other := NewSession(start.Add(50 * time.Second))
	store.Put(other)
	assert.NotEqual(t, s.Token, other.Token)

	removed := store.Cleanup(start.Add(61 * time.Second))
	require.Len(t, removed, 1)
	assert.Equal(t, s.Token, removed[0].Token)
	assert.Equal(t, 1, store.Len())

	store.Delete(other.Token)
	assert.Zero(t, store.Len())
}

func TestSessionStore_DefaultTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Minute, NewSessionStore(0).Timeout())
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	s := NewSession(time.Now())
	s.SlotIDs = []int{1, 2}
	v := s.Snapshot()
	v.SlotIDs[0] = 9
	assert.Equal(t, 1, s.SlotIDs[0])
	assert.Nil(t, v.HoldUntil)
}
