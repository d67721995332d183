package utils

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// CPUCount returns the number of logical cores on the host.
func CPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// AvailableMemory returns the bytes of memory currently available to new
// allocations, or 0 when the host does not report it.
func AvailableMemory() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.Available
}

// CapBudget limits a cache budget to a fraction of available memory.  The
// budget is returned unchanged when the host memory is unknown.
func CapBudget(budget int64, fraction float64) int64 {
	avail := AvailableMemory()
	if avail == 0 || fraction <= 0 {
		return budget
	}
	limit := int64(float64(avail) * fraction)
	if limit > 0 && budget > limit {
		return limit
	}
	return budget
}
