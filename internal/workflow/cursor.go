package workflow

// Cursor remembers the writable cursor reported by the backend. The set of
// unlocked chapters it describes never shrinks: a value lower than one
// already observed, or a missing value after a present one, is ignored.
// The zero value has observed nothing.
type Cursor struct {
	value       *int
	regressions int
}

// Observe records a value read from the backend. It reports whether the
// remembered value changed and whether next was ignored as a regression.
func (c *Cursor) Observe(next *int) (changed, regressed bool) {
	switch {
	case next == nil && c.value == nil:
		return false, false
	case next == nil:
		c.regressions++
		return false, true
	case c.value == nil:
		v := *next
		c.value = &v
		return true, false
	case *next < *c.value:
		c.regressions++
		return false, true
	case *next == *c.value:
		return false, false
	default:
		v := *next
		c.value = &v
		return true, false
	}
}

// Value returns a copy of the remembered cursor, or nil.
func (c *Cursor) Value() *int {
	if c.value == nil {
		return nil
	}
	v := *c.value
	return &v
}

// Regressions counts ignored values.
func (c *Cursor) Regressions() int {
	return c.regressions
}
