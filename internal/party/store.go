package party

import "sync"

// Store owns the process-wide active-session slot. At most one party runs
// at a time; creating a new one displaces the old.
//
// The mutex guards only the pointer. A handler that waited on the relay
// while holding a session must re-check with CurrentIs before committing
// anything into it: the slot may have been taken over or emptied in the
// meantime.
type Store struct {
	mu      sync.Mutex
	current *Session
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the active session, or nil.
func (st *Store) Current() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// CurrentIs reports whether s is still the active session.
func (st *Store) CurrentIs(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current != nil && st.current == s
}

// Replace installs s as the active session and returns the one it
// displaced, if any. Notifying and releasing the displaced session is the
// caller's job.
func (st *Store) Replace(s *Session) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	old := st.current
	st.current = s
	return old
}

// Take empties the slot if s is still current and reports whether it was.
// A false return means another handler already displaced or tore down s;
// the caller must not release it again.
func (st *Store) Take(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current != s {
		return false
	}
	st.current = nil
	return true
}

// Status returns the observer snapshot of the current session, or an
// inactive one when no party is running.
func (st *Store) Status() Status {
	s := st.Current()
	if s == nil {
		return Status{}
	}
	return s.Status()
}
