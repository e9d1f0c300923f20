package browser

import "sync"

// Session owns a Driver for the lifetime of one flow. Close is safe to
// call from every exit path; the driver is closed exactly once.
type Session struct {
	Driver

	once     sync.Once
	closeErr error
	closed   bool
	mu       sync.Mutex
}

// NewSession wraps d.
func NewSession(d Driver) *Session {
	return &Session{Driver: d}
}

// Close closes the underlying driver on the first call and returns the
// same result on every later call.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.closeErr = s.Driver.Close()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	return s.closeErr
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
