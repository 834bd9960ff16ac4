// Package emulator implements a latency/bandwidth emulator: per-request
// access-time padding and per-stream bandwidth shaping by busy-waiting
// on a cycle counter converted from the host's detected CPU frequency.
// Go has no portable RDTSC intrinsic, so "cycles" here are derived from
// wall-clock time.Duration via the detected frequency. The busy-wait
// loop itself never yields. No lock is held across a sleep or across
// the access-time busy-wait; the bandwidth busy-wait runs while the
// batch lock is held.
package emulator

import (
	"sync"
	"time"

	"github.com/sarchlab/pmbd/diag"
)

// Direction distinguishes read and write emulation, which are shaped
// entirely independently of each other.
type Direction int

const (
	// Read is the read direction.
	Read Direction = iota
	// Write is the write direction.
	Write
)

// Bandwidth batching thresholds.
const (
	MaxInterval = 1 * time.Millisecond
	MaxDuration = 10 * time.Millisecond
	MaxSectors  = 4096
	MinSectors  = 256

	// sleepThreshold: delays at or above this sleep for the millisecond
	// part and busy-wait only the sub-millisecond remainder.
	sleepThreshold = 10 * time.Millisecond
)

// Params are a direction's configured emulation knobs.
type Params struct {
	LatencyNS uint64 // rdlat/wrlat: access-time floor, in nanoseconds
	BWMBps    uint64 // rdbw/wrbw: bandwidth ceiling, in MB/s (0 disables)
	SX        uint64 // rdsx/wrsx: slowdown factor (0 or 1 disables)
	PauseNS   uint64 // rdpause/wrpause, expressed here directly in ns
}

// Emulator holds the per-device state for both directions: the detected
// CPU frequency (used only to convert configured nanosecond parameters
// into an internal cycle count and back, since Go cannot read a real
// cycle counter) and the bandwidth batch state.
type Emulator struct {
	cpuFreqHz uint64

	rd Params
	wr Params

	sectorSize uint64
	blockSize  uint64

	batchLock sync.Mutex
	rdBatch   batch
	wrBatch   batch

	stages *diag.StageTimer
}

// SetStages wires a StageTimer that AccessTimeCPU records the pause and
// slowdown components of its busy-wait deficit into. Nil (the default)
// disables that recording, which is why Emulators built directly in
// tests need not call it.
func (e *Emulator) SetStages(st *diag.StageTimer) { e.stages = st }

// New creates an Emulator. cpuFreqHz should come from DetectCPUFreqHz;
// tests may pass a fixed value for determinism.
func New(cpuFreqHz uint64, sectorSize, blockSize uint64, rd, wr Params) *Emulator {
	if cpuFreqHz == 0 {
		cpuFreqHz = DefaultCPUFreqHz
	}
	return &Emulator{
		cpuFreqHz:  cpuFreqHz,
		rd:         rd,
		wr:         wr,
		sectorSize: sectorSize,
		blockSize:  blockSize,
	}
}

func (e *Emulator) nsToCycles(ns uint64) uint64 {
	return uint64(float64(ns) * float64(e.cpuFreqHz) / 1e9)
}

func (e *Emulator) cyclesToDuration(cycles uint64) time.Duration {
	return time.Duration(float64(cycles) / float64(e.cpuFreqHz) * float64(time.Second))
}

func (e *Emulator) params(dir Direction) Params {
	if dir == Read {
		return e.rd
	}
	return e.wr
}

// AccessTime measures the real elapsed time of work, then busy-waits
// any deficit against the configured latency floor for dir, plus the
// fixed per-4KiB pause and the (X-1)-extra-cycles-per-cycle slowdown
// factor. No lock is held during the busy-wait. It is AccessTimeCPU
// with cpu 0; callers that want the pause/slowdown components
// attributed to a StageTimer bucket call AccessTimeCPU directly.
func (e *Emulator) AccessTime(dir Direction, nSectors uint64, work func()) {
	e.AccessTimeCPU(dir, nSectors, 0, work)
}

// AccessTimeCPU is AccessTime with an explicit per-processor bucket: if
// SetStages has wired a StageTimer, the pause and slowdown portions of
// the busy-wait deficit are recorded under their own stages, bucketed
// by cpu and dir.
func (e *Emulator) AccessTimeCPU(dir Direction, nSectors uint64, cpu int, work func()) {
	p := e.params(dir)

	start := time.Now()
	work()
	elapsed := time.Since(start)

	floorCycles := e.nsToCycles(p.LatencyNS)
	floor := e.cyclesToDuration(floorCycles)

	deficit := floor - elapsed
	if deficit < 0 {
		deficit = 0
	}

	if p.SX > 1 {
		slowdown := time.Duration(p.SX-1) * elapsed
		deficit += slowdown
		if e.stages != nil {
			e.stages.Record(cpu, diag.StageSlowdown, stageDirection(dir), slowdown)
		}
	}

	if p.PauseNS > 0 && e.blockSize > 0 {
		numBlocks := (nSectors*e.sectorSize + e.blockSize - 1) / e.blockSize
		pauseCycles := e.nsToCycles(p.PauseNS) * numBlocks
		pause := e.cyclesToDuration(pauseCycles)
		deficit += pause
		if e.stages != nil {
			e.stages.Record(cpu, diag.StagePause, stageDirection(dir), pause)
		}
	}

	busyWaitOrSleep(deficit)
}

// stageDirection maps this package's Direction onto diag's, which
// deliberately avoids importing emulator to stay dependency-free of its
// internal batching state.
func stageDirection(dir Direction) diag.Direction {
	if dir == Write {
		return diag.Write
	}
	return diag.Read
}

// busyWaitOrSleep surrenders the processor for the millisecond part of
// delays >= 10ms via time.Sleep and busy-waits only the sub-millisecond
// remainder; shorter delays busy-wait entirely. Sleeping must never
// happen while a lock is held; callers that hold batch locks use
// busyWait directly instead.
func busyWaitOrSleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if d >= sleepThreshold {
		msPart := d.Truncate(time.Millisecond)
		time.Sleep(msPart)
		d -= msPart
	}
	busyWait(d)
}

// busyWait spins until d has elapsed. It never yields the processor.
func busyWait(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
