package emulator

import (
	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultCPUFreqHz is the fallback frequency used when the host CPU's
// frequency cannot be determined (e.g. inside some containers/VMs that
// hide /proc/cpuinfo's mhz field). 2 GHz is a conservative, roughly
// contemporary midpoint.
const DefaultCPUFreqHz = 2_000_000_000

// DetectCPUFreqHz reads the advertised CPU frequency of the first
// logical processor via gopsutil, the same information source
// monitoring.Monitor uses (via gopsutil/process) to describe the host
// a simulation ran on. The result feeds the cycle<->ns conversion the
// latency emulator performs on rdlat/wrlat.
func DetectCPUFreqHz() uint64 {
	info, err := cpu.Info()
	if err != nil || len(info) == 0 || info[0].Mhz <= 0 {
		return DefaultCPUFreqHz
	}
	return uint64(info[0].Mhz * 1e6)
}
