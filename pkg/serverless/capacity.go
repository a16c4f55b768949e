// Package serverless sizes serverless Spark pools in allocation units (AU).
package serverless

import (
	"errors"
	"fmt"
)

// One AU buys this many cores or this much memory, whichever runs out
// first.
const (
	CoresPerAU    = 2
	MemoryGBPerAU = 6
)

// ErrInsufficientAU is returned by PoolSpec.Fits when the pool needs more
// AU than are available.
var ErrInsufficientAU = errors.New("insufficient allocation units")

// PoolSpec describes the master and worker containers of a pool.
type PoolSpec struct {
	MasterCores      int `json:"masterCores" yaml:"masterCores"`
	MasterMemoryGB   int `json:"masterMemoryGB" yaml:"masterMemoryGB"`
	WorkerCores      int `json:"workerCores" yaml:"workerCores"`
	WorkerMemoryGB   int `json:"workerMemoryGB" yaml:"workerMemoryGB"`
	WorkerContainers int `json:"workerContainers" yaml:"workerContainers"`
}

// Validate rejects non-positive sizes. Zero workers is allowed.
func (p PoolSpec) Validate() error {
	switch {
	case p.MasterCores <= 0:
		return fmt.Errorf("master cores must be positive, got %d", p.MasterCores)
	case p.MasterMemoryGB <= 0:
		return fmt.Errorf("master memory must be positive, got %d", p.MasterMemoryGB)
	case p.WorkerContainers < 0:
		return fmt.Errorf("worker containers must not be negative, got %d", p.WorkerContainers)
	case p.WorkerContainers > 0 && p.WorkerCores <= 0:
		return fmt.Errorf("worker cores must be positive, got %d", p.WorkerCores)
	case p.WorkerContainers > 0 && p.WorkerMemoryGB <= 0:
		return fmt.Errorf("worker memory must be positive, got %d", p.WorkerMemoryGB)
	}
	return nil
}

// AU returns CalculatedAU for the spec.
func (p PoolSpec) AU() int {
	return CalculatedAU(p.MasterCores, p.WorkerCores, p.MasterMemoryGB, p.WorkerMemoryGB, p.WorkerContainers)
}

// Fits checks the spec against the available AU of an account.
func (p PoolSpec) Fits(total, used int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	need, avail := p.AU(), AvailableAU(total, used)
	if need > avail {
		return fmt.Errorf("%w: pool needs %d AU, %d of %d available", ErrInsufficientAU, need, avail, total)
	}
	return nil
}

// CalculatedAU is the AU a pool consumes: the larger of its total cores
// over CoresPerAU and its total memory over MemoryGBPerAU, each rounded up.
func CalculatedAU(masterCores, workerCores, masterMemoryGB, workerMemoryGB, workerContainers int) int {
	cores := masterCores + workerCores*workerContainers
	memory := masterMemoryGB + workerMemoryGB*workerContainers
	return max(ceilDiv(cores, CoresPerAU), ceilDiv(memory, MemoryGBPerAU))
}

// AvailableAU is total minus used, floored at zero.
func AvailableAU(total, used int) int {
	if used > total {
		return 0
	}
	return total - used
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
