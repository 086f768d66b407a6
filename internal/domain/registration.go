package domain

import "time"

// RegistrationToken is a single-use bearer credential a human operator hands
// to a node during its first bring-up. Consumption is atomic: a token can
// flip used=false -> used=true exactly once.
type RegistrationToken struct {
	Token     string // the bearer token itself, UUID v4
	UserID    string
	Label     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	NodeID    string
	UsedAt    *time.Time
}

// Expired reports whether the token can no longer be consumed, independent
// of its Used flag.
func (t RegistrationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
