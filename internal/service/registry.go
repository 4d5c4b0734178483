package service

import "sync"

// registry hands out the per-match mutex that serializes every command
// against one match. LoadOrStore makes creation first-writer-wins, so two
// concurrent commands for a new id always converge on the same lock and
// at most one engine execution context exists per match.
type registry struct {
	locks sync.Map // matchID -> *sync.Mutex
}

func (r *registry) lock(matchID string) *sync.Mutex {
	v, _ := r.locks.LoadOrStore(matchID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// forget drops a retired match's lock. Callers must not hold the lock.
func (r *registry) forget(matchID string) {
	r.locks.Delete(matchID)
}
