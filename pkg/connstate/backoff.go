package connstate

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxShiftLimit is the largest exponent a retry policy may use
const MaxShiftLimit = 30

// Delay returns the wait before retry attempt k (1-based):
// base × 2^min(k-1, maxShift). maxShift is clamped to [0, MaxShiftLimit]
// and the result saturates instead of overflowing.
func Delay(base time.Duration, maxShift, attempt int) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	maxShift = min(max(maxShift, 0), MaxShiftLimit)
	shift := min(attempt-1, maxShift)
	if base > time.Duration(math.MaxInt64>>shift) {
		return time.Duration(math.MaxInt64)
	}
	return base << uint(shift)
}

// Shift is a backoff.BackOff that doubles from Base up to Base<<MaxShift and
// then stays constant
type Shift struct {
	Base     time.Duration
	MaxShift int

	attempt int
}

var _ backoff.BackOff = (*Shift)(nil)

// NewShift creates a capped doubling backoff
func NewShift(base time.Duration, maxShift int) *Shift {
	return &Shift{Base: base, MaxShift: maxShift}
}

func (s *Shift) NextBackOff() time.Duration {
	s.attempt++
	return Delay(s.Base, s.MaxShift, s.attempt)
}

func (s *Shift) Reset() {
	s.attempt = 0
}
