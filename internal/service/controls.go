package service

import (
	"sync/atomic"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/observability"
)

// Controls is the process-wide trading state shared by the risk gate and the
// execution engine. Reads never block; writes replace whole values.
type Controls struct {
	limits atomic.Pointer[domain.RiskLimits]
	halted atomic.Bool
}

// NewControls creates a Controls handle with the initial limits.
func NewControls(limits domain.RiskLimits, halted bool) *Controls {
	c := &Controls{}
	c.limits.Store(&limits)
	c.halted.Store(halted)
	observability.SetHalted(halted)
	return c
}

// Limits returns the current limits.
func (c *Controls) Limits() domain.RiskLimits {
	return *c.limits.Load()
}

// SwapLimits atomically installs new limits and returns the previous ones.
func (c *Controls) SwapLimits(next domain.RiskLimits) domain.RiskLimits {
	return *c.limits.Swap(&next)
}

// Halted reports whether the emergency stop is engaged.
func (c *Controls) Halted() bool {
	return c.halted.Load()
}

// Halt engages the emergency stop. It returns false if it was already engaged.
func (c *Controls) Halt() bool {
	changed := c.halted.CompareAndSwap(false, true)
	observability.SetHalted(true)
	return changed
}

// Resume clears the emergency stop. It returns false if it was not engaged.
func (c *Controls) Resume() bool {
	changed := c.halted.CompareAndSwap(true, false)
	observability.SetHalted(false)
	return changed
}
