package diag

import (
	"runtime"
	"sync"
	"time"

	"github.com/tklauser/numcpus"
)

// Stage labels one of the pipeline stages tracked for per-processor
// cycle counts.
type Stage string

// The full stage vocabulary.
const (
	StagePrepare      Stage = "prepare"
	StageWork         Stage = "work"
	StageEndIO        Stage = "endio"
	StageMemcpy       Stage = "memcpy"
	StagePmap         Stage = "pmap"
	StagePunmap       Stage = "punmap"
	StageClflush      Stage = "clflush"
	StageClflushAll   Stage = "clflush_all"
	StageWrverify     Stage = "wrverify"
	StageChecksum     Stage = "checksum"
	StageSetPagesRO   Stage = "setpages_ro"
	StageSetPagesRW   Stage = "setpages_rw"
	StagePause        Stage = "pause"
	StageSlowdown     Stage = "slowdown"
)

// AllStages lists every stage, in reporting order.
var AllStages = []Stage{
	StagePrepare, StageWork, StageEndIO, StageMemcpy, StagePmap, StagePunmap,
	StageClflush, StageClflushAll, StageWrverify, StageChecksum,
	StageSetPagesRO, StageSetPagesRW, StagePause, StageSlowdown,
}

// Direction mirrors emulator.Direction without importing it, to keep
// diag dependency-free of the emulator's internal batching state.
type Direction int

const (
	Read Direction = iota
	Write
)

// entry accumulates one (processor, stage, direction) bucket.
type entry struct {
	total time.Duration
	count uint64
}

// StageTimer accumulates per-stage cycle time, bucketed by logical
// processor and direction. The processor count comes from
// github.com/tklauser/numcpus, which reports
// the online CPU count the same way the host's own /sys/devices would,
// so the bucket index space matches what a real per-CPU stat array on
// this machine would look like.
type StageTimer struct {
	mu      sync.Mutex
	buckets map[int]map[Stage]map[Direction]*entry
	numCPU  int
}

// NewStageTimer allocates a StageTimer sized to the host's online CPU
// count (falling back to runtime.NumCPU if numcpus is unavailable, e.g.
// inside restrictive containers).
func NewStageTimer() *StageTimer {
	n, err := numcpus.GetOnline()
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	return &StageTimer{
		buckets: make(map[int]map[Stage]map[Direction]*entry),
		numCPU:  n,
	}
}

// NumCPU returns the number of per-processor buckets.
func (t *StageTimer) NumCPU() int { return t.numCPU }

// Record adds d to the (cpu, stage, dir) bucket. cpu is taken modulo
// NumCPU so callers can pass a raw goroutine-affinity hint without
// bounds-checking it themselves.
func (t *StageTimer) Record(cpu int, stage Stage, dir Direction, d time.Duration) {
	if t.numCPU > 0 {
		cpu = ((cpu % t.numCPU) + t.numCPU) % t.numCPU
	} else {
		cpu = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byStage, ok := t.buckets[cpu]
	if !ok {
		byStage = make(map[Stage]map[Direction]*entry)
		t.buckets[cpu] = byStage
	}
	byDir, ok := byStage[stage]
	if !ok {
		byDir = make(map[Direction]*entry)
		byStage[stage] = byDir
	}
	e, ok := byDir[dir]
	if !ok {
		e = &entry{}
		byDir[dir] = e
	}
	e.total += d
	e.count++
}

// Since is a convenience for the common "time a stage" pattern: call
// with defer diag.StageTimer.Since(time.Now(), cpu, stage, dir).
func (t *StageTimer) Since(start time.Time, cpu int, stage Stage, dir Direction) {
	t.Record(cpu, stage, dir, time.Since(start))
}

// StageSnapshot is one reportable bucket.
type StageSnapshot struct {
	CPU       int           `json:"cpu"`
	Stage     Stage         `json:"stage"`
	Direction string        `json:"direction"`
	Total     time.Duration `json:"total_ns"`
	Count     uint64        `json:"count"`
}

// Snapshot returns every non-empty bucket.
func (t *StageTimer) Snapshot() []StageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []StageSnapshot
	for cpu, byStage := range t.buckets {
		for stage, byDir := range byStage {
			for dir, e := range byDir {
				dirName := "read"
				if dir == Write {
					dirName = "write"
				}
				out = append(out, StageSnapshot{
					CPU: cpu, Stage: stage, Direction: dirName,
					Total: e.total, Count: e.count,
				})
			}
		}
	}
	return out
}
