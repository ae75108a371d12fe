package orchestrator

import (
	"sync"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

// headroomBytes is withheld from every device's reported availability so
// a selection decision never packs a device to the exact byte, matching
// the backend's own practice of keeping scratch space for KV cache growth
// during generation.
const headroomBytes = 512 * 1024 * 1024

// VramBudget tracks the backend's per-device VRAM inventory, refreshed
// from GET /api/ps, and answers whether a candidate model fits anywhere.
type VramBudget struct {
	mu      sync.RWMutex
	devices map[int]domain.Device
}

// NewVramBudget returns an empty budget tracker.
func NewVramBudget() *VramBudget {
	return &VramBudget{devices: make(map[int]domain.Device)}
}

// Refresh replaces the tracked device inventory wholesale, the way a
// GET /api/ps poll would.
func (b *VramBudget) Refresh(devices []domain.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = make(map[int]domain.Device, len(devices))
	for _, d := range devices {
		b.devices[d.Index] = d
	}
}

// AvailableOn returns the headroom-adjusted available VRAM on the given
// device index, or 0 if the device is unknown.
func (b *VramBudget) AvailableOn(index int) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.devices[index]
	if !ok {
		return 0
	}
	avail := d.Available() - headroomBytes
	if avail < 0 {
		return 0
	}
	return avail
}

// Fits reports whether m would fit on any tracked device, after headroom.
func (b *VramBudget) Fits(m domain.Model) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, d := range b.devices {
		avail := d.Available() - headroomBytes
		if avail > 0 && m.Fits(avail) {
			return true
		}
	}
	return false
}

// Port returns the device index m would be placed on, selecting the
// device with the most available headroom among those it fits, mirroring
// a best-fit-by-most-free-space bin packing policy. ok is false if m fits
// nowhere.
func (b *VramBudget) Port(m domain.Model) (index int, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bestIdx := -1
	var bestAvail int64 = -1
	for _, d := range b.devices {
		avail := d.Available() - headroomBytes
		if avail > 0 && m.Fits(avail) && avail > bestAvail {
			bestAvail = avail
			bestIdx = d.Index
		}
	}
	if bestIdx == -1 {
		return 0, false
	}
	return bestIdx, true
}

// Devices returns a snapshot of every tracked device.
func (b *VramBudget) Devices() []domain.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Device, 0, len(b.devices))
	for _, d := range b.devices {
		out = append(out, d)
	}
	return out
}
