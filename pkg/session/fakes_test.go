package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// fakeHandle is a Handle that records calls and can simulate termination.
type fakeHandle struct {
	mu      sync.Mutex
	closes  int
	binds   int
	served  int
	bindErr error

	closeErr     error
	panicOnClose bool

	done chan struct{}
	once sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{done: make(chan struct{})}
}

func (h *fakeHandle) Bind(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.binds++
	return h.bindErr
}

func (h *fakeHandle) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	h.served++
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
	h.terminate()
	if h.panicOnClose {
		panic("close exploded")
	}
	return h.closeErr
}

func (h *fakeHandle) Done() <-chan struct{} {
	return h.done
}

// terminate simulates the channel ending on its own, e.g. a client disconnect.
func (h *fakeHandle) terminate() {
	h.once.Do(func() { close(h.done) })
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func (h *fakeHandle) serveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.served
}

func (h *fakeHandle) bindCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.binds
}

// fakeFactory hands out fakeHandles and remembers them by session id.
type fakeFactory struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	err     error
	bindErr error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{handles: make(map[string]*fakeHandle)}
}

func (f *fakeFactory) NewHandle(_ context.Context, id string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	h := newFakeHandle()
	h.bindErr = f.bindErr
	f.handles[id] = h
	return h, nil
}

func (f *fakeFactory) handle(id string) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[id]
}

// faultyStore wraps MemoryStore with injectable failures.
type faultyStore struct {
	*MemoryStore

	mu        sync.Mutex
	findErr   error
	saveErr   error
	deleteErr error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: NewMemoryStore()}
}

func (s *faultyStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func (s *faultyStore) setFindErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findErr = err
}

func (s *faultyStore) FindOne(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	err := s.findErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.FindOne(ctx, id)
}

func (s *faultyStore) Save(ctx context.Context, r *Record) error {
	s.mu.Lock()
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Save(ctx, r)
}

func (s *faultyStore) DeleteMany(ctx context.Context, f Filter) (int64, error) {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.MemoryStore.DeleteMany(ctx, f)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errStoreDown = errors.New("store unavailable")
