package clock

import "time"

// FakeClock serves a fixed instant so rental term arithmetic in tests is
// reproducible.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

func (f *FakeClock) Now() time.Time {
	return f.now
}

// Advance moves the clock forward, e.g. past a rental's end date.
func (f *FakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}
