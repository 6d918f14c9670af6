// Package softlock manages transient holds on (date, slot, room) triples
// taken while a reservation attempt is in progress.
package softlock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meetbook/internal/clock"
	"meetbook/internal/ledger"
	"meetbook/internal/model"
)

// DefaultTTL is how long a hold survives without being committed or released.
const DefaultTTL = 180 * time.Second

type Manager struct {
	ledger *ledger.Ledger
	clock  clock.Clock
	ttl    time.Duration
	logger *zerolog.Logger

	onExpired func(rows int)
}

type Option func(*Manager)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// OnExpired registers fn to run after a sweep removed expired rows, including
// the sweeps done before reads.
func OnExpired(fn func(rows int)) Option {
	return func(m *Manager) {
		m.onExpired = fn
	}
}

func NewManager(l *ledger.Ledger, clk clock.Clock, logger *zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		ledger: l,
		clock:  clk,
		ttl:    DefaultTTL,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire writes one hold row per slot, all stamped with the same time, in a
// single append. Calling it twice for the same triple writes duplicate rows.
func (m *Manager) Acquire(ctx context.Context, token string, date model.Date, slotIDs model.SlotIDs, roomID string) error {
	if strings.TrimSpace(token) == "" {
		return model.Invalid("token", "must not be empty")
	}
	if len(slotIDs) == 0 {
		return model.Invalid("slot_ids", "at least one slot is required")
	}
	if roomID == "" {
		return model.Invalid("room_id", "must not be empty")
	}

	now := m.clock.Now()
	locks := make([]model.SoftLock, len(slotIDs))
	for i, slot := range slotIDs {
		locks[i] = model.SoftLock{
			Token:     token,
			Date:      date,
			SlotID:    slot,
			RoomID:    roomID,
			Status:    model.LockStatusHolding,
			CreatedAt: now,
		}
	}
	if err := m.ledger.AppendSoftLocks(ctx, locks); err != nil {
		return fmt.Errorf("acquire hold: %w", err)
	}

	m.logger.Debug().
		Str("token", token).
		Str("date", date.String()).
		Str("slots", slotIDs.String()).
		Str("room_id", roomID).
		Msg("hold acquired")
	return nil
}

// Release drops every hold owned by token. Releasing a token that holds
// nothing does not touch the ledger.
func (m *Manager) Release(ctx context.Context, token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	n, err := m.ledger.RemoveSoftLocks(ctx, func(l model.SoftLock) bool {
		return l.Token == token
	})
	if err != nil {
		return 0, fmt.Errorf("release hold: %w", err)
	}
	if n > 0 {
		m.logger.Debug().Str("token", token).Int("rows", n).Msg("hold released")
	}
	return n, nil
}

// SweepExpired removes holds whose age reached the TTL.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	now := m.clock.Now()
	n, err := m.ledger.RemoveSoftLocks(ctx, func(l model.SoftLock) bool {
		return !l.LiveAt(now, m.ttl)
	})
	if err != nil {
		return 0, fmt.Errorf("sweep expired holds: %w", err)
	}
	if n > 0 {
		m.logger.Info().Int("rows", n).Msg("expired holds swept")
		if m.onExpired != nil {
			m.onExpired(n)
		}
	}
	return n, nil
}

// Live sweeps expired holds and returns the remaining ones. A failed sweep
// does not fail the read: expired rows are filtered out in memory instead.
func (m *Manager) Live(ctx context.Context) ([]model.SoftLock, error) {
	if _, err := m.SweepExpired(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("sweep before read failed")
	}
	locks, err := m.ledger.SoftLocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("read holds: %w", err)
	}
	now := m.clock.Now()
	live := locks[:0]
	for _, l := range locks {
		if l.LiveAt(now, m.ttl) {
			live = append(live, l)
		}
	}
	return live, nil
}

// HeldBy reports whether token holds a live hold on every slot of the triple.
func (m *Manager) HeldBy(ctx context.Context, token string, date model.Date, slotIDs model.SlotIDs, roomID string) (bool, error) {
	if token == "" || len(slotIDs) == 0 {
		return false, nil
	}
	live, err := m.Live(ctx)
	if err != nil {
		return false, err
	}
	return Covers(live, token, date, slotIDs, roomID), nil
}

// Covers reports whether locks contain a hold of token for every slot.
func Covers(locks []model.SoftLock, token string, date model.Date, slotIDs model.SlotIDs, roomID string) bool {
	held := make(map[int]bool, len(slotIDs))
	for _, l := range locks {
		if l.Token == token && l.Date == date && l.RoomID == roomID {
			held[l.SlotID] = true
		}
	}
	for _, s := range slotIDs {
		if !held[s] {
			return false
		}
	}
	return true
}
