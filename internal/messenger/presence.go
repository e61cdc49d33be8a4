package messenger

import (
	"slices"
	"sync"
)

// Presence is the set of online user ids. Every server push replaces it
// whole; ids missing from a push are offline.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// Replace overwrites the set with ids.
func (p *Presence) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}

// IsOnline reports whether id was in the last push.
func (p *Presence) IsOnline(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.online[id]
	return ok
}

// Snapshot returns the ids in sorted order.
func (p *Presence) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CountExcept returns the number of online ids other than self. The server
// includes the caller in its own presence list; the count must not.
func (p *Presence) CountExcept(self string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.online)
	if _, ok := p.online[self]; ok {
		n--
	}
	return n
}

// Clear empties the set.
func (p *Presence) Clear() {
	p.mu.Lock()
	p.online = make(map[string]struct{})
	p.mu.Unlock()
}
