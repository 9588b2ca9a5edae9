package refreshledger

import (
	"time"
)

// Entry tracks one live, unrotated refresh token. The AccessJTI link is what
// lets a rotation or revocation take the whole token family down at once.
type Entry struct {
	UserID    string
	SessionID string
	AccessJTI string
	CreatedAt time.Time
	LastUsed  time.Time
}

// Filter selects ledger entries for bulk revocation. Exactly one field
// should be set.
type Filter struct {
	UserID    string
	SessionID string
}

func (f Filter) matches(e Entry) bool {
	if f.UserID != "" {
		return e.UserID == f.UserID
	}
	if f.SessionID != "" {
		return e.SessionID == f.SessionID
	}
	return false
}
