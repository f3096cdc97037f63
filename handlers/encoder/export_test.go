package encoder

import "time"

// SetClock replaces the time source Velocity uses.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }
