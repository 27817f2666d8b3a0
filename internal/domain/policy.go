package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// Policy is the issuing authority's price/duration configuration. Price
// applies at mint time; DefaultDuration is snapshotted onto a ticket at the
// moment it is activated, so later policy changes never touch tickets that
// are already running.
type Policy struct {
	Price           *uint256.Int // wei per ticket
	DefaultDuration time.Duration
}

// RequiredPayment returns price*quantity with 256-bit overflow detection.
func RequiredPayment(price *uint256.Int, quantity uint64) (*uint256.Int, error) {
	required, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(quantity))
	if overflow {
		return nil, ErrInvalidInput
	}
	return required, nil
}

// ParseWei parses a decimal wei amount.
func ParseWei(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, ErrInvalidInput
	}
	return v, nil
}
