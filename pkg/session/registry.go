package session

import "sync"

// registry maps session ids to live handles. The mutex is held only for
// map mutation, never across store I/O or handle calls.
type registry struct {
	mu      sync.Mutex
	handles map[string]Handle
}

func newRegistry() *registry {
	return &registry{handles: make(map[string]Handle)}
}

func (r *registry) get(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// put registers h under id and returns the handle it replaced, if any.
func (r *registry) put(id string, h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.handles[id]
	r.handles[id] = h
	return prev
}

// removeIf deletes the entry for id only if it is still h. It reports
// whether it removed anything, which makes termination handling exactly-once.
func (r *registry) removeIf(id string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[id]; ok && cur == h {
		delete(r.handles, id)
		return true
	}
	return false
}

// restore undoes a put of h, reinstating prev when there was one.
func (r *registry) restore(id string, h, prev Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[id]; !ok || cur != h {
		return
	}
	if prev != nil {
		r.handles[id] = prev
		return
	}
	delete(r.handles, id)
}

// ids returns a snapshot of the registered session ids.
func (r *registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handles))
	for id := range r.handles {
		out = append(out, id)
	}
	return out
}

// drain removes and returns every registered handle.
func (r *registry) drain() map[string]Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.handles
	r.handles = make(map[string]Handle)
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
