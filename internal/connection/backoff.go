package connection

import (
	"time"

	"notify-sync-client/config"
)

// Backoff yields reconnect delays from a fixed escalating schedule, indexed by
// the number of consecutive failures. It is not safe for concurrent use.
type Backoff struct {
	schedule []time.Duration
	failures int
}

// NewBackoff creates a backoff over schedule. An empty schedule falls back to
// the default one.
func NewBackoff(schedule []time.Duration) *Backoff {
	if len(schedule) == 0 {
		for _, s := range config.DefaultBackoffSeconds {
			schedule = append(schedule, time.Duration(s)*time.Second)
		}
	}
	return &Backoff{schedule: append([]time.Duration(nil), schedule...)}
}

// Next returns the delay before the next attempt and counts one more failure.
// Past the end of the schedule the last entry is repeated.
func (b *Backoff) Next() time.Duration {
	i := b.failures
	if i >= len(b.schedule) {
		i = len(b.schedule) - 1
	}
	b.failures++
	return b.schedule[i]
}

// Reset clears the failure counter after a successful connect.
func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures returns the number of consecutive failures.
func (b *Backoff) Failures() int {
	return b.failures
}
