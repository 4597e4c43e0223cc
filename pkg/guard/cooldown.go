package guard

import "time"

// CooldownMap suppresses re-emission of an identical (fingerprint,
// severity) alert within a configured interval.
type CooldownMap struct {
	last map[string]time.Time
}

// NewCooldownMap creates an empty cooldown map.
func NewCooldownMap() *CooldownMap {
	return &CooldownMap{last: make(map[string]time.Time)}
}

// Allow reports whether an emission keyed by fingerprint and severity is
// outside its cooldown, and records the emission when it is.
func (c *CooldownMap) Allow(fingerprint, severity string, cooldown time.Duration, now time.Time) bool {
	key := fingerprint + "|" + severity
	if last, ok := c.last[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}
