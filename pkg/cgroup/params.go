package cgroup

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

const (
	// PeriodMicros is the fixed CFS bandwidth period.
	PeriodMicros = 100000

	// ShareBase is the cpu.shares weight of a group allowed 100% of the host.
	ShareBase = 1024
)

// Params are the kernel values derived from a CPU quota percentage.
type Params struct {
	Shares       uint64
	PeriodMicros uint64
	QuotaMicros  int64
}

// ShareWeight returns the proportional cpu.shares weight for quota percent.
func ShareWeight(quota int) uint64 {
	return uint64(ShareBase * quota / 100)
}

// QuotaMicros returns cfs_quota_us for quota percent of all cpus.
func QuotaMicros(quota, cpus int) int64 {
	return int64(PeriodMicros) * int64(cpus) * int64(quota) / 100
}

// DeriveParams computes every kernel parameter for one definition.
func DeriveParams(quota, cpus int) Params {
	return Params{
		Shares:       ShareWeight(quota),
		PeriodMicros: PeriodMicros,
		QuotaMicros:  QuotaMicros(quota, cpus),
	}
}

// HostCPUCount returns the number of logical CPUs, falling back to the
// runtime's view when gopsutil cannot tell.
func HostCPUCount() (int, error) {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU(), err
	}
	return n, nil
}
