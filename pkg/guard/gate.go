package guard

import "time"

// HysteresisGate activates after its trigger condition holds continuously
// for the trigger duration and recovers after the recovery condition holds
// continuously for the recovery duration. A single reading that breaks
// continuity resets the respective timer to zero, with no partial credit.
type HysteresisGate struct {
	triggerFor time.Duration
	recoverFor time.Duration

	active       bool
	triggerStart time.Time
	recoverStart time.Time
}

// NewHysteresisGate builds a gate with the given sustain durations.
func NewHysteresisGate(triggerFor, recoverFor time.Duration) *HysteresisGate {
	return &HysteresisGate{triggerFor: triggerFor, recoverFor: recoverFor}
}

// Active reports whether the gate has tripped and not yet recovered.
func (g *HysteresisGate) Active() bool {
	return g.active
}

// Observe feeds one reading. triggering is whether the trigger condition
// holds now, recovering whether the recovery condition holds now. It
// returns +1 on the activation transition, -1 on the recovery transition,
// 0 otherwise.
func (g *HysteresisGate) Observe(now time.Time, triggering, recovering bool) int {
	if !g.active {
		if !triggering {
			g.triggerStart = time.Time{}
			return 0
		}
		if g.triggerStart.IsZero() {
			g.triggerStart = now
		}
		if now.Sub(g.triggerStart) >= g.triggerFor {
			g.active = true
			g.recoverStart = time.Time{}
			return 1
		}
		return 0
	}

	if !recovering {
		g.recoverStart = time.Time{}
		return 0
	}
	if g.recoverStart.IsZero() {
		g.recoverStart = now
	}
	if now.Sub(g.recoverStart) >= g.recoverFor {
		g.active = false
		g.triggerStart = time.Time{}
		return -1
	}
	return 0
}

// TriggerElapsed reports how long the trigger condition has been holding
// while the gate is still inactive. Zero when not currently accumulating.
func (g *HysteresisGate) TriggerElapsed(now time.Time) time.Duration {
	if g.active || g.triggerStart.IsZero() {
		return 0
	}
	return now.Sub(g.triggerStart)
}
