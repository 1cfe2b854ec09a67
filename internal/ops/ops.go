// Package ops samples host resource usage (CPU, memory) for the admin
// status surface.
package ops

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time host resource reading.
type Snapshot struct {
	NumCPU         int     `json:"num_cpu"`
	CPUUsedPercent float64 `json:"cpu_used_percent"`
	MemTotalMB     float64 `json:"mem_total_mb"`
	MemUsedMB      float64 `json:"mem_used_mb"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}

// Sample takes a short CPU sample (200ms, matching the teacher's own
// sampling window) and a memory reading. Either reading is left zeroed if
// the underlying gopsutil call errors, so a sampling failure never fails
// the admin endpoint calling this.
func Sample() Snapshot {
	s := Snapshot{NumCPU: runtime.NumCPU()}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemTotalMB = float64(vm.Total) / 1024 / 1024
		s.MemUsedMB = float64(vm.Used) / 1024 / 1024
		s.MemUsedPercent = vm.UsedPercent
	}

	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		s.CPUUsedPercent = pct[0]
	}

	return s
}
