package guard

import (
	"fmt"
	"sync"
	"time"
)

// Guard throttles pipeline admission: a per-source cooldown plus a
// global sliding-window cap. It pre-empts everything downstream, so a
// denial here costs no inference call and no subprocess.
//
// All state is owned by the instance and protected by one mutex;
// denied attempts leave the counters untouched.
type Guard struct {
	mu           sync.Mutex
	cooldown     time.Duration
	window       time.Duration
	maxPerWindow int
	lastAdmitted map[string]time.Time
	admissions   []time.Time
	now          func() time.Time
}

// New builds a guard on the wall clock. A non-positive cooldown
// disables the per-source check; a non-positive window or cap disables
// the global one.
func New(cooldown, window time.Duration, maxPerWindow int) *Guard {
	return NewWithClock(cooldown, window, maxPerWindow, time.Now)
}

// NewWithClock is New with an injected time source for tests.
func NewWithClock(cooldown, window time.Duration, maxPerWindow int, now func() time.Time) *Guard {
	return &Guard{
		cooldown:     cooldown,
		window:       window,
		maxPerWindow: maxPerWindow,
		lastAdmitted: make(map[string]time.Time),
		now:          now,
	}
}

// Admit decides whether a request from sourceLabel may enter the
// pipeline right now. The reason is non-empty only on denial.
func (g *Guard) Admit(sourceLabel string) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if g.cooldown > 0 {
		if last, ok := g.lastAdmitted[sourceLabel]; ok {
			if elapsed := now.Sub(last); elapsed < g.cooldown {
				return false, fmt.Sprintf("cooldown: %s of %s elapsed since last admission from %q",
					elapsed.Round(time.Millisecond), g.cooldown, sourceLabel)
			}
		}
	}

	if g.maxPerWindow > 0 && g.window > 0 {
		g.pruneLocked(now)
		if len(g.admissions) >= g.maxPerWindow {
			return false, fmt.Sprintf("window: %d admissions in the last %s, cap is %d",
				len(g.admissions), g.window, g.maxPerWindow)
		}
	}

	g.lastAdmitted[sourceLabel] = now
	g.admissions = append(g.admissions, now)
	return true, ""
}

// SetLimits applies freshly loaded rate parameters. Admission history
// is kept; only the thresholds move.
func (g *Guard) SetLimits(cooldown, window time.Duration, maxPerWindow int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = cooldown
	g.window = window
	g.maxPerWindow = maxPerWindow
}

// Reset clears all counters.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastAdmitted = make(map[string]time.Time)
	g.admissions = nil
}

func (g *Guard) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.window)
	keep := g.admissions[:0]
	for _, t := range g.admissions {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	g.admissions = keep
}
