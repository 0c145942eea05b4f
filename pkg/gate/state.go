// Package gate implements admission control for outbound Service Layer calls.
// It bounds how many calls run at once and how many callers may be queued
// behind them, rejecting the rest immediately.
package gate

// Defaults for gate configuration.
const (
	// DefaultConcurrencyLimit bounds simultaneous in-flight calls.
	DefaultConcurrencyLimit = 8

	// Unbounded disables the queue limit.
	Unbounded = 0
)

// State is a snapshot of a gate.
type State struct {
	// Active is the number of permits currently held.
	Active int `json:"active"`

	// Pending is the number of admitted callers, waiting or active.
	Pending int `json:"pending"`

	// ConcurrencyLimit is the maximum number of permits held at once.
	ConcurrencyLimit int `json:"concurrency_limit"`

	// QueueLimit is the maximum number of pending callers (0 = unbounded).
	QueueLimit int `json:"queue_limit"`
}

// Waiting returns the number of admitted callers still waiting for a permit.
func (s State) Waiting() int {
	if w := s.Pending - s.Active; w > 0 {
		return w
	}
	return 0
}

// Saturated returns true when every permit is taken.
func (s State) Saturated() bool {
	return s.Active >= s.ConcurrencyLimit
}

// QueueFull returns true when the next Acquire would be rejected.
func (s State) QueueFull() bool {
	return s.QueueLimit > 0 && s.Pending >= s.QueueLimit
}
