// Package clocktest provides a manually advanced clock for unit tests.
package clocktest

import (
	"sort"
	"sync"
	"time"

	"github.com/BluceCao2018/funbenchmark.com/pkg/clock"
)

// Fake is a Clock whose time only moves when Advance is called. Timers due at
// or before the new instant fire synchronously, in schedule order, with the
// clock set to each timer's due time while its callback runs.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    int
}

type fakeTimer struct {
	clk     *Fake
	due     time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (ft *fakeTimer) Stop() bool {
	ft.clk.mu.Lock()
	defer ft.clk.mu.Unlock()
	if ft.fired || ft.stopped {
		return false
	}
	ft.stopped = true
	return true
}

// NewFake returns a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) clock.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ft := &fakeTimer{clk: f, due: f.now.Add(d), seq: f.seq, fn: fn}
	f.timers = append(f.timers, ft)
	return ft
}

// Advance moves the clock forward, firing due timers in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		ft := f.nextDue(target)
		if ft == nil {
			break
		}
		f.mu.Lock()
		f.now = ft.due
		ft.fired = true
		f.mu.Unlock()
		ft.fn()
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

func (f *Fake) nextDue(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := make([]*fakeTimer, 0, len(f.timers))
	for _, ft := range f.timers {
		if !ft.fired && !ft.stopped && !ft.due.After(target) {
			pending = append(pending, ft)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].due.Equal(pending[j].due) {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].due.Before(pending[j].due)
	})
	return pending[0]
}
