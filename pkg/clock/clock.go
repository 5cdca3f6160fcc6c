// Package clock provides the wall-clock capability injected into the
// engine so that day boundaries and "now"-relative queries are
// deterministic under test.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current instant and the civil-time zone used for all
// local day arithmetic.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// System is the real wall clock in the process-local timezone.
type System struct{}

func (System) Now() time.Time           { return time.Now() }
func (System) Location() *time.Location { return time.Local }

// Fake is a settable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake pinned at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Location()
}

// Set moves the fake clock to the given instant.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
