package messenger

import (
	"sync"

	"edchat/internal/app/message"
)

// Store is the ordered message list of the open conversation. Messages are
// kept in arrival order and never re-sorted.
//
// While a history load is in flight, appended messages are held back and
// merged after the history replaces the list, skipping ids the history
// already contains.
type Store struct {
	mu sync.Mutex

	// dedup drops appends whose id is already listed.
	dedup bool

	msgs []message.Message
	ids  map[string]struct{}

	loading bool
	pending []message.Message
}

func NewStore(dedup bool) *Store {
	return &Store{dedup: dedup, ids: make(map[string]struct{})}
}

// Reset empties the list and cancels any load bookkeeping.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = nil
	s.ids = make(map[string]struct{})
	s.loading = false
	s.pending = nil
}

// BeginLoad starts holding back appends until FinishLoad or AbortLoad.
func (s *Store) BeginLoad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = true
}

// FinishLoad replaces the list with history, then appends the held-back
// messages that history does not contain.
func (s *Store) FinishLoad(history []message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = make([]message.Message, 0, len(history)+len(s.pending))
	s.ids = make(map[string]struct{}, len(history)+len(s.pending))
	for _, m := range history {
		s.msgs = append(s.msgs, m)
		s.ids[m.ID] = struct{}{}
	}

	s.flushPending()
}

// AbortLoad ends a failed load, keeping the current list and appending the
// held-back messages to it.
func (s *Store) AbortLoad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushPending()
}

func (s *Store) flushPending() {
	pending := s.pending
	s.pending = nil
	s.loading = false

	for _, m := range pending {
		if _, seen := s.ids[m.ID]; seen {
			continue
		}
		s.msgs = append(s.msgs, m)
		s.ids[m.ID] = struct{}{}
	}
}

// Append adds m at the end. It returns false if m was dropped as a duplicate.
func (s *Store) Append(m message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading {
		if s.dedup {
			for _, p := range s.pending {
				if p.ID == m.ID {
					return false
				}
			}
		}
		s.pending = append(s.pending, m)
		return true
	}

	if _, seen := s.ids[m.ID]; seen && s.dedup {
		return false
	}

	s.msgs = append(s.msgs, m)
	s.ids[m.ID] = struct{}{}
	return true
}

// Snapshot returns a copy of the list.
func (s *Store) Snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]message.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Loading reports whether a history load is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
