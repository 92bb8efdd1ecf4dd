package session

import "time"

// Session is the server-side state behind one opaque token.
//
// The token itself is never part of the record; stores key sessions by the
// token's SHA-256.
type Session struct {
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	IdleTimeout  time.Duration
}

// ExpiresAt is the instant after which the session is dead unless touched.
func (s Session) ExpiresAt() time.Time {
	return s.LastActivity.Add(s.IdleTimeout)
}

// Expired reports whether more than IdleTimeout has passed since the last
// activity. A session touched exactly IdleTimeout ago is still alive.
func (s Session) Expired(now time.Time) bool {
	return now.Sub(s.LastActivity) > s.IdleTimeout
}

// touch moves LastActivity forward to now. It never moves it back.
func (s *Session) touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}
