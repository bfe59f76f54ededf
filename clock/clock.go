// Package clock provides the Clock capability: production code reads time
// through it so tests can inject deterministic time instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time so components stay testable without wall clock
// dependence, per the capability-injection design this engine follows for
// PaneDriver, ReviewerDriver, and Store.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker abstracts time.Ticker so fakes can control firing.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time  { return time.After(d) }
func (Real) NewTicker(d time.Duration) Ticker        { return &realTicker{t: time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Fake is a deterministic Clock for tests: Now() is controlled explicitly
// via Set/Advance, and After/NewTicker fire only when Advance crosses their
// deadline.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	subs []fakeSub
}

type fakeSub struct {
	deadline time.Time
	ch       chan time.Time
	periodic time.Duration // zero for a one-shot After
}

// NewFake creates a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	f.subs = append(f.subs, fakeSub{deadline: f.now.Add(d), ch: ch})
	return ch
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	f.subs = append(f.subs, fakeSub{deadline: f.now.Add(d), ch: ch, periodic: d})
	return &fakeTicker{f: f, ch: ch}
}

// Advance moves the fake clock forward by d, firing any subscriptions whose
// deadline has passed (rescheduling periodic ones).
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	remaining := f.subs[:0]
	for _, s := range f.subs {
		if !f.now.Before(s.deadline) {
			select {
			case s.ch <- f.now:
			default:
			}
			if s.periodic > 0 {
				s.deadline = f.now.Add(s.periodic)
				remaining = append(remaining, s)
			}
			continue
		}
		remaining = append(remaining, s)
	}
	f.subs = remaining
}

type fakeTicker struct {
	f  *Fake
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop() {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	remaining := t.f.subs[:0]
	for _, s := range t.f.subs {
		if s.ch != t.ch {
			remaining = append(remaining, s)
		}
	}
	t.f.subs = remaining
}
