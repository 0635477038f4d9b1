// Package poll implements the bounded busy-wait loops used against device
// registers.
package poll

import "errors"

// ErrTimeout is returned when a condition did not hold within the budget.
var ErrTimeout = errors.New("poll budget exhausted")

// Budget is the maximum number of times a condition is evaluated. Zero means
// no bound.
type Budget uint64

// Unbounded waits forever.
const Unbounded Budget = 0

// Until evaluates cond until it reports true, returning the number of
// evaluations that reported false. It fails with ErrTimeout once the budget is
// spent.
func (b Budget) Until(cond func() bool) (uint64, error) {
	var spins uint64
	for !cond() {
		spins++
		if b != Unbounded && spins >= uint64(b) {
			return spins, ErrTimeout
		}
	}
	return spins, nil
}
