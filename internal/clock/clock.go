package clock

import "time"

// Clock lets services take the current time as a dependency instead of
// calling time.Now directly, so peak-window and ETA logic is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystem() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }

type fixedClock struct {
	now time.Time
}

// NewFixed returns a clock pinned to one instant.
func NewFixed(t time.Time) Clock { return fixedClock{now: t.UTC()} }

func (f fixedClock) Now() time.Time { return f.now }
