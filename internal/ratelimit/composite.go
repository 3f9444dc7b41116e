package ratelimit

import "strings"

// Limiter is the admission-control strategy interface. Check must be free of
// side effects. TryRequest tests and records under one lock so concurrent
// callers cannot over-admit past the limit. Record registers consumption
// without a test; the composite calls it only after every chained limiter
// has passed its check, so a later rejection never leaves a partial debit.
type Limiter interface {
	Check(key string, weight float64) bool
	TryRequest(key string, weight float64) bool
	Record(key string, weight float64)
}

// Composite chains multiple limiters. A request is admitted only when every
// sub-limiter allows it; consumption is recorded second, after all checks.
type Composite struct {
	limiters []Limiter
}

// NewComposite creates a composite limiter.
func NewComposite(limiters ...Limiter) *Composite {
	return &Composite{limiters: limiters}
}

// Check reports whether every sub-limiter would admit the request.
func (c *Composite) Check(key string, weight float64) bool {
	for _, l := range c.limiters {
		if !l.Check(key, weight) {
			return false
		}
	}
	return true
}

// TryRequest checks every sub-limiter first, then records the consumption on
// all of them.
func (c *Composite) TryRequest(key string, weight float64) bool {
	if !c.Check(key, weight) {
		return false
	}
	c.Record(key, weight)
	return true
}

// Record registers the consumption on every sub-limiter.
func (c *Composite) Record(key string, weight float64) {
	for _, l := range c.limiters {
		l.Record(key, weight)
	}
}

// Key builds a composite rate limit key from parts, e.g. (userID, toolName).
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
