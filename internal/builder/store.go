package builder

import (
	"sync"
	"time"
)

// Key identifies a conversation: a chat plus an optional forum topic.
type Key struct {
	ChatID   int64
	ThreadID int
}

type entry struct {
	s       *Session
	touched time.Time
}

// Store holds at most one open session per conversation.
type Store struct {
	mu       sync.Mutex
	sessions map[Key]entry
	now      func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{sessions: map[Key]entry{}, now: now}
}

// Put installs s for k and reports whether it replaced an open session.
func (st *Store) Put(k Key, s *Session) (replaced bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, replaced = st.sessions[k]
	st.sessions[k] = entry{s: s, touched: st.now()}
	return replaced
}

// Get returns the open session for k and marks it as recently used.
func (st *Store) Get(k Key) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[k]
	if !ok {
		return nil, false
	}
	e.touched = st.now()
	st.sessions[k] = e
	return e.s, true
}

// Drop discards the session for k and reports whether one was open.
func (st *Store) Drop(k Key) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[k]
	delete(st.sessions, k)
	return ok
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Expire drops sessions idle for longer than ttl and returns how many went.
func (st *Store) Expire(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := st.now().Add(-ttl)
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for k, e := range st.sessions {
		if e.touched.Before(cutoff) {
			delete(st.sessions, k)
			n++
		}
	}
	return n
}
