// Package debounce suppresses repeated reads of the same code.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is how long an identical value stays suppressed.
const DefaultWindow = 1500 * time.Millisecond

// Gate remembers the last accepted value and when it was accepted.
//
// Only an identical value inside the window is suppressed. A different value
// is always accepted and restarts the window for itself. Safe for concurrent
// use.
type Gate struct {
	mu        sync.Mutex
	window    time.Duration
	lastValue string
	lastAt    time.Time
	primed    bool

	accepted   uint64
	suppressed uint64
}

// New returns a Gate with the given window. A non-positive window selects
// DefaultWindow.
func New(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{window: window}
}

// Window returns the suppression window.
func (g *Gate) Window() time.Duration {
	return g.window
}

// Accept reports whether text observed at now should be processed. Accepted
// values update the gate; suppressed ones do not extend the window.
func (g *Gate) Accept(text string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.primed && text == g.lastValue && now.Sub(g.lastAt) < g.window {
		g.suppressed++
		return false
	}

	g.lastValue = text
	g.lastAt = now
	g.primed = true
	g.accepted++
	return true
}

// Reset forgets the last accepted value.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastValue = ""
	g.lastAt = time.Time{}
	g.primed = false
}

// Stats returns accepted and suppressed counts since construction.
func (g *Gate) Stats() (accepted, suppressed uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accepted, g.suppressed
}
