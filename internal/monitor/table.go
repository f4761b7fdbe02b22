package monitor

import "sync"

// Slot is the mutable handle passed to Table.With. A nil State means the
// user has no live state; setting it to nil discards the state.
type Slot struct {
	State *UserState
}

type entry struct {
	mu   sync.Mutex
	slot Slot
	refs int // guarded by Table.mu
}

// Table holds per-user state behind one mutex per user. Different users
// proceed in parallel; calls for the same user are serialized.
type Table struct {
	mu    sync.Mutex
	users map[string]*entry
}

func NewTable() *Table {
	return &Table{users: make(map[string]*entry)}
}

func (t *Table) acquire(userID string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[userID]
	if !ok {
		e = &entry{}
		t.users[userID] = e
	}
	e.refs++
	return e
}

// release drops the entry once the last holder leaves and no state is kept.
func (t *Table) release(userID string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.slot.State == nil {
		delete(t.users, userID)
	}
}

// With runs fn while holding the user's lock. fn must not call back into
// the table for the same user.
func (t *Table) With(userID string, fn func(*Slot) error) error {
	e := t.acquire(userID)
	defer t.release(userID, e)

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.slot)
}

// Len is the number of users holding an entry.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

// Snapshot returns a deep copy of the user's state, or nil.
func (t *Table) Snapshot(userID string) *UserState {
	var out *UserState
	_ = t.With(userID, func(s *Slot) error {
		if s.State != nil {
			out = s.State.Clone()
		}
		return nil
	})
	return out
}

// Users lists ids that currently hold live state.
func (t *Table) Users() []string {
	t.mu.Lock()
	entries := make(map[string]*entry, len(t.users))
	for id, e := range t.users {
		entries[id] = e
	}
	t.mu.Unlock()

	var ids []string
	for id, e := range entries {
		e.mu.Lock()
		if e.slot.State != nil {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	return ids
}
