package relay

import "sync"

// Session is the per-connection record of the bound identity. It is created
// with the connection, written at most once (anonymous -> authenticated), and
// destroyed with the connection. It is keyed by the connection, never by the
// user: a user may reconnect under a new connection and a connection may
// never authenticate.
type Session struct {
	mu     sync.Mutex
	userID string
}

// NewSession returns an anonymous session.
func NewSession() *Session {
	return &Session{}
}

// Bind records the authenticated user for this connection. A second bind is
// rejected with ErrAlreadyAuthenticated; re-login must not silently swap the
// identity under an open connection.
func (s *Session) Bind(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID != "" {
		return ErrAlreadyAuthenticated
	}
	s.userID = userID
	return nil
}

// UserID returns the bound user id, if any.
func (s *Session) UserID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.userID != ""
}

// Authenticated reports whether an identity is bound.
func (s *Session) Authenticated() bool {
	_, ok := s.UserID()
	return ok
}
