// Package booking implements the reservation dialog as a state machine over
// explicit, token-keyed sessions.
package booking

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"meetbook/internal/model"
)

// State represents the current step of a reservation attempt.
type State string

const (
	StateSelectingDate  State = "selecting_date"
	StateSelectingSlots State = "selecting_slots"
	StateSelectingRoom  State = "selecting_room"
	StateConfirming     State = "confirming"
	StateCommitted      State = "committed"
	StateAbandoned      State = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAbandoned
}

// Session is one reservation attempt. Its token also owns the soft locks
// taken on the attempt's behalf.
type Session struct {
	Token       string
	State       State
	Date        model.Date
	SlotIDs     model.SlotIDs
	RoomID      string
	RequesterID string
	Purpose     string
	BookingID   int64
	HoldUntil   time.Time
	StartedAt   time.Time
	UpdatedAt   time.Time
	mu          sync.Mutex
}

// View is a copy of the session safe to hand out.
type View struct {
	Token       string        `json:"token"`
	State       State         `json:"state"`
	Date        model.Date    `json:"date,omitempty"`
	SlotIDs     model.SlotIDs `json:"slot_ids,omitempty"`
	RoomID      string        `json:"room_id,omitempty"`
	RequesterID string        `json:"requester_id,omitempty"`
	Purpose     string        `json:"purpose,omitempty"`
	BookingID   int64         `json:"booking_id,omitempty"`
	HoldUntil   *time.Time    `json:"hold_until,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewSession creates a session with a fresh token.
func NewSession(now time.Time) *Session {
	return &Session{
		Token:     uuid.NewString(),
		State:     StateSelectingDate,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// view must be called with s.mu held.
func (s *Session) view() View {
	v := View{
		Token:       s.Token,
		State:       s.State,
		Date:        s.Date,
		SlotIDs:     append(model.SlotIDs(nil), s.SlotIDs...),
		RoomID:      s.RoomID,
		RequesterID: s.RequesterID,
		Purpose:     s.Purpose,
		BookingID:   s.BookingID,
		StartedAt:   s.StartedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if !s.HoldUntil.IsZero() {
		until := s.HoldUntil
		v.HoldUntil = &until
	}
	return v
}

// Snapshot returns a copy of the session.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// IsExpired checks whether the session was idle longer than timeout.
func (s *Session) IsExpired(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.UpdatedAt) > timeout
}

// SessionStore manages reservation sessions by token.
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	timeout  time.Duration
}

// NewSessionStore creates a new session store.
func NewSessionStore(timeout time.Duration) *SessionStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		timeout:  timeout,
	}
}

func (ss *SessionStore) Timeout() time.Duration {
	return ss.timeout
}

// Get returns the session for token or nil.
func (ss *SessionStore) Get(token string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[token]
}

func (ss *SessionStore) Put(s *Session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sessions[s.Token] = s
}

// Delete removes a session.
func (ss *SessionStore) Delete(token string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, token)
}

func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// Cleanup removes sessions idle longer than the timeout and returns them.
func (ss *SessionStore) Cleanup(now time.Time) []*Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	var removed []*Session
	for token, session := range ss.sessions {
		if session.IsExpired(now, ss.timeout) {
			delete(ss.sessions, token)
			removed = append(removed, session)
		}
	}
	return removed
}

// FSM holds the allowed transitions of the reservation dialog.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateSelectingDate:  {StateSelectingSlots, StateAbandoned},
			StateSelectingSlots: {StateSelectingRoom, StateSelectingDate, StateAbandoned},
			StateSelectingRoom:  {StateConfirming, StateSelectingSlots, StateAbandoned},
			StateConfirming:     {StateCommitted, StateSelectingRoom, StateAbandoned},
			StateCommitted:      {},
			StateAbandoned:      {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// backTarget returns the previous step of from.
func backTarget(from State) (State, bool) {
	switch from {
	case StateSelectingSlots:
		return StateSelectingDate, true
	case StateSelectingRoom:
		return StateSelectingSlots, true
	case StateConfirming:
		return StateSelectingRoom, true
	default:
		return "", false
	}
}
