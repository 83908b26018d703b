// Package locks serialises executor operations per (user, symbol).
package locks

import "sync"

// Registry hands out one mutex per (user, symbol) pair. Locks are created
// lazily on first use and never evicted; the population is bounded by
// users × whitelisted symbols. There is no global executor lock.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

func (r *Registry) get(userID, symbol string) *sync.Mutex {
	key := userID + "|" + symbol
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Lock acquires the pair lock and returns its unlock function. Callers hold
// it for the whole operation; nested executor helpers must not re-acquire.
func (r *Registry) Lock(userID, symbol string) func() {
	l := r.get(userID, symbol)
	l.Lock()
	return l.Unlock
}

// Len reports how many pair locks have been created.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
