// Package limiter bounds how many expensive units of work one invocation may perform.
package limiter

import "fmt"

// WorkLimiter counts processed units against a fixed budget. It is shared by every
// stage of a run so the budget spans periods and stages alike. Not safe for
// concurrent use.
type WorkLimiter struct {
	budget   int
	consumed int
}

// New returns a limiter allowing budget units. A budget of zero or less allows nothing.
func New(budget int) *WorkLimiter {
	return &WorkLimiter{budget: budget}
}

// CanProcess reports whether another unit may start.
func (l *WorkLimiter) CanProcess() bool {
	return l.consumed < l.budget
}

// Increment records one completed unit.
func (l *WorkLimiter) Increment() {
	l.consumed++
}

// Remaining returns how many units may still start.
func (l *WorkLimiter) Remaining() int {
	return max(0, l.budget-l.consumed)
}

// Consumed returns how many units were recorded.
func (l *WorkLimiter) Consumed() int {
	return l.consumed
}

func (l *WorkLimiter) String() string {
	return fmt.Sprintf("%d/%d", l.consumed, l.budget)
}
