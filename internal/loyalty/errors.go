package loyalty

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOrderState   = errors.New("loyalty: invalid order state")
	ErrInsufficientPoints  = errors.New("loyalty: insufficient points")
	ErrInvalidReferralCode = errors.New("loyalty: invalid referral code")
	ErrConcurrencyConflict = errors.New("loyalty: concurrency conflict")
	ErrInvalidAmount       = errors.New("loyalty: invalid amount")
	ErrUserNotFound        = errors.New("loyalty: user not found")
	ErrReferenceConflict   = errors.New("loyalty: reference already used")
)

// InsufficientPointsError carries the shortfall of a rejected redemption.
// errors.Is(err, ErrInsufficientPoints) holds for it.
type InsufficientPointsError struct {
	Requested int64
	Available int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("%s: requested %d, available %d", ErrInsufficientPoints, e.Requested, e.Available)
}

func (e *InsufficientPointsError) Is(target error) bool {
	return target == ErrInsufficientPoints
}
