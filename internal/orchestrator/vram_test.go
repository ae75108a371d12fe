package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
)

func TestVramBudget_RefreshAndAvailableOn(t *testing.T) {
	b := NewVramBudget()
	b.Refresh([]domain.Device{
		{Index: 0, Name: "gpu0", TotalVRAM: 8 << 30, UsedVRAM: 2 << 30},
	})

	want := (8 << 30) - (2 << 30) - headroomBytes
	assert.Equal(t, int64(want), b.AvailableOn(0))
	assert.Equal(t, int64(0), b.AvailableOn(1))
}

func TestVramBudget_FitsRespectsHeadroom(t *testing.T) {
	b := NewVramBudget()
	b.Refresh([]domain.Device{{Index: 0, TotalVRAM: 4 << 30, UsedVRAM: 0}})

	fits := domain.Model{SizeBytes: (4 << 30) - headroomBytes - 1}
	tooBig := domain.Model{SizeBytes: 4 << 30}

	assert.True(t, b.Fits(fits))
	assert.False(t, b.Fits(tooBig))
}

func TestVramBudget_PortPicksMostAvailableDevice(t *testing.T) {
	b := NewVramBudget()
	b.Refresh([]domain.Device{
		{Index: 0, TotalVRAM: 8 << 30, UsedVRAM: 6 << 30},
		{Index: 1, TotalVRAM: 8 << 30, UsedVRAM: 1 << 30},
	})

	m := domain.Model{SizeBytes: 1 << 30}
	idx, ok := b.Port(m)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestVramBudget_PortReportsNoFit(t *testing.T) {
	b := NewVramBudget()
	b.Refresh([]domain.Device{{Index: 0, TotalVRAM: 1 << 30, UsedVRAM: 1 << 30}})

	_, ok := b.Port(domain.Model{SizeBytes: 1 << 20})
	assert.False(t, ok)
}

func TestVramBudget_DevicesSnapshot(t *testing.T) {
	b := NewVramBudget()
	b.Refresh([]domain.Device{{Index: 0}, {Index: 1}})
	assert.Len(t, b.Devices(), 2)
}

func TestDevice_Available(t *testing.T) {
	d := domain.Device{TotalVRAM: 10, UsedVRAM: 12}
	assert.Equal(t, int64(0), d.Available())
}
