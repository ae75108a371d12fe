package domain

import "time"

// Device is one inference accelerator the backend reports through
// GET /running, identified by ordinal index within the host.
type Device struct {
	Index      int
	Name       string
	TotalVRAM  int64 // bytes
	UsedVRAM   int64 // bytes, last observed
}

// Available returns the remaining VRAM budget on the device, floored at 0.
func (d Device) Available() int64 {
	if d.UsedVRAM >= d.TotalVRAM {
		return 0
	}
	return d.TotalVRAM - d.UsedVRAM
}

// Model is a descriptor for one model the inference backend can serve,
// as reported by GET /models and enriched by ModelRegistry categorization.
type Model struct {
	Name         string
	Category     ModelCategory
	Priority     int // higher selected first within a category
	SizeBytes    int64
	LastSeenAt   time.Time
	ContextSize  int
}

// Fits reports whether the model's size would fit within the given
// available VRAM budget, applying no safety margin beyond SizeBytes itself
// (VramBudget.Fits is what applies headroom policy).
func (m Model) Fits(availableBytes int64) bool {
	return m.SizeBytes <= availableBytes
}
