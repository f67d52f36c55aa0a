package scheduler

import (
	"sync"
	"time"
)

// alarms is the named-timer collaborator: one pending wall-clock timer
// per name, replaced on re-create, dropped on clear.
type alarms struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	onFire func(name string)
}

func newAlarms(onFire func(name string)) *alarms {
	return &alarms{timers: map[string]*time.Timer{}, onFire: onFire}
}

// Create arms (or re-arms) the named timer to fire at the given time.
func (a *alarms) Create(name string, at, now time.Time) {
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[name]; ok {
		t.Stop()
	}
	a.timers[name] = time.AfterFunc(d, func() { a.onFire(name) })
}

// Clear drops the named timer if pending. An in-flight firing is not
// interrupted.
func (a *alarms) Clear(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[name]; ok {
		t.Stop()
		delete(a.timers, name)
	}
}

func (a *alarms) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, t := range a.timers {
		t.Stop()
		delete(a.timers, name)
	}
}
