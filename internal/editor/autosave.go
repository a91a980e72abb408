package editor

import (
	"context"
	"sync"
	"time"
)

// Autosaver debounces pushes of local edits. It holds at most one pending
// save: scheduling again cancels and re-arms the timer.
type Autosaver struct {
	delay time.Duration
	save  func(ctx context.Context) error

	mu       sync.Mutex
	timer    *time.Timer
	pending  bool
	gen      uint64
	revision uint64
	stopped  bool
}

func NewAutosaver(delay time.Duration, save func(ctx context.Context) error) *Autosaver {
	return &Autosaver{delay: delay, save: save}
}

// Schedule arms the debounce timer, replacing any pending one.
func (a *Autosaver) Schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	a.revision++
	a.pending = true
	gen := a.gen
	a.timer = time.AfterFunc(a.delay, func() {
		a.fire(gen)
	})
}

func (a *Autosaver) fire(gen uint64) {
	a.mu.Lock()
	if a.stopped || gen != a.gen || !a.pending {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	_ = a.save(context.Background())
	a.settle(gen)
}

// Flush cancels the debounce and saves now, even when nothing is pending.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
	a.revision++
	a.pending = true
	gen := a.gen
	a.mu.Unlock()

	err := a.save(ctx)
	a.settle(gen)
	return err
}

// settle clears the pending flag unless a newer save was scheduled while
// this one was in flight.
func (a *Autosaver) settle(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen == a.gen {
		a.pending = false
	}
}

// Pending reports whether a local edit is waiting to be pushed or is being
// pushed.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Revision increases every time a save is scheduled or flushed.
func (a *Autosaver) Revision() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revision
}

// Stop cancels any pending save and disables the autosaver.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.stopped = true
	a.pending = false
	a.gen++
}
