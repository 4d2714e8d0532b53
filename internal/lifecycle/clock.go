package lifecycle

import "time"

// Clock abstracts timer creation so backoff sequencing can be tested without
// real waits.
type Clock interface {
	// After returns a channel that delivers once after d elapses.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// SystemClock returns a Clock backed by the runtime timers.
func SystemClock() Clock {
	return realClock{}
}
