package serverless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatedAU(t *testing.T) {
	tests := []struct {
		name              string
		mc, wc, mm, wm, n int
		want              int
	}{
		{name: "cores bound", mc: 4, wc: 4, mm: 6, wm: 6, n: 2, want: 6},
		{name: "memory bound", mc: 1, wc: 1, mm: 12, wm: 30, n: 1, want: 7},
		{name: "rounds up", mc: 1, wc: 0, mm: 1, wm: 0, n: 0, want: 1},
		{name: "no workers", mc: 2, wc: 8, mm: 12, wm: 64, n: 0, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculatedAU(tt.mc, tt.wc, tt.mm, tt.wm, tt.n))
		})
	}
}

func TestAvailableAU(t *testing.T) {
	assert.Equal(t, 0, AvailableAU(10, 11))
	assert.Equal(t, 0, AvailableAU(10, 10))
	assert.Equal(t, 7, AvailableAU(10, 3))
}

func TestPoolSpec_Fits(t *testing.T) {
	p := PoolSpec{MasterCores: 4, MasterMemoryGB: 6, WorkerCores: 4, WorkerMemoryGB: 6, WorkerContainers: 2}
	require.NoError(t, p.Fits(10, 4))

	err := p.Fits(10, 5)
	assert.ErrorIs(t, err, ErrInsufficientAU)
	assert.ErrorContains(t, err, "needs 6 AU, 5 of 10 available")

	assert.Error(t, PoolSpec{MasterCores: 0, MasterMemoryGB: 1}.Fits(10, 0))
	assert.Error(t, PoolSpec{MasterCores: 1, MasterMemoryGB: 1, WorkerContainers: 2}.Validate())
	assert.NoError(t, PoolSpec{MasterCores: 1, MasterMemoryGB: 1}.Validate())
}
