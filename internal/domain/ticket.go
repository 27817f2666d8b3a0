package domain

import (
	"strings"
	"time"
)

// Ticket is one unit of purchasable network access. A ticket is minted in
// the pre-activation state, activated exactly once by its owner, and is
// then valid for the half-open window [ActivatedAt, ActivatedAt+Duration).
type Ticket struct {
	ID          uint64
	Owner       Address
	ActivatedAt time.Time // zero value means never activated
	Duration    time.Duration
}

func (t Ticket) Activated() bool {
	return !t.ActivatedAt.IsZero()
}

// ValidAt reports whether the ticket grants access at the given instant.
// The expiry instant itself is excluded.
func (t Ticket) ValidAt(now time.Time) bool {
	if !t.Activated() {
		return false
	}
	return now.Before(t.ActivatedAt.Add(t.Duration))
}

// Status values derived from ticket state; dashboards render these.
const (
	StatusAvailable = "AVAILABLE"
	StatusActive    = "ACTIVE"
	StatusExpired   = "EXPIRED"
)

func (t Ticket) StatusAt(now time.Time) string {
	switch {
	case !t.Activated():
		return StatusAvailable
	case t.ValidAt(now):
		return StatusActive
	default:
		return StatusExpired
	}
}

// Address identifies a ticket holder: a lowercase 0x-prefixed 40-digit hex
// wallet address.
type Address string

func ParseAddress(s string) (Address, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return "", ErrInvalidInput
	}
	for _, c := range s[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", ErrInvalidInput
		}
	}
	return Address(s), nil
}

func (a Address) String() string {
	return string(a)
}
