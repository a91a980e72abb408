package editor

import "sync"

// Gate is the mutual exclusion between the sync loop and playback: while the
// gate is held, nothing but playback may replace the session list from the
// server. Every acquire and release advances the epoch so a pull that was in
// flight across either transition can be recognized and dropped.
type Gate struct {
	mu        sync.Mutex
	held      bool
	lease     uint64
	epoch     uint64
	onAcquire func()
	onRelease func()
}

func NewGate() *Gate {
	return &Gate{}
}

// OnChange installs hooks run after the gate is acquired and after it is
// released. Hooks run without the gate lock held.
func (g *Gate) OnChange(acquired, released func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onAcquire = acquired
	g.onRelease = released
}

// Acquire takes the gate and returns the lease needed to release it. It
// reports false when the gate is already held.
func (g *Gate) Acquire() (uint64, bool) {
	g.mu.Lock()
	if g.held {
		g.mu.Unlock()
		return 0, false
	}
	g.held = true
	g.epoch++
	g.lease = g.epoch
	lease := g.lease
	hook := g.onAcquire
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return lease, true
}

// Release gives the gate back. A stale or unknown lease is ignored so a
// late release can never free a gate taken by a later holder.
func (g *Gate) Release(lease uint64) bool {
	g.mu.Lock()
	if !g.held || lease == 0 || lease != g.lease {
		g.mu.Unlock()
		return false
	}
	g.held = false
	g.lease = 0
	g.epoch++
	hook := g.onRelease
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true
}

func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

func (g *Gate) Epoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}
