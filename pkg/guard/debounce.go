package guard

// Debounce accepts a new value only after it has been observed the same N
// consecutive times, guarding against transient reads.
type Debounce struct {
	required int
	pending  string
	count    int
}

// NewDebounce requires the same candidate value on n consecutive
// observations before accepting it.
func NewDebounce(n int) *Debounce {
	if n < 1 {
		n = 1
	}
	return &Debounce{required: n}
}

// Observe feeds one candidate value that differs from the current baseline.
// It returns true once the candidate has been seen the required number of
// consecutive times; the caller then commits it as the new baseline and
// calls Reset.
func (d *Debounce) Observe(candidate string) bool {
	if d.pending == candidate {
		d.count++
	} else {
		d.pending = candidate
		d.count = 1
	}
	return d.count >= d.required
}

// Reset clears any pending candidate, e.g. when the reading reverted to the
// baseline.
func (d *Debounce) Reset() {
	d.pending = ""
	d.count = 0
}
