// Package device wires the region, checksum store, write buffer,
// permission gate, and latency emulator into a request dispatcher and
// barrier coordinator: the entry point a caller actually issues
// read/write/flush against.
package device

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/sarchlab/pmbd/checksum"
	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/copyops"
	"github.com/sarchlab/pmbd/diag"
	"github.com/sarchlab/pmbd/emulator"
	"github.com/sarchlab/pmbd/gate"
	"github.com/sarchlab/pmbd/pbi"
	"github.com/sarchlab/pmbd/pmbderr"
	"github.com/sarchlab/pmbd/region"
	"github.com/sarchlab/pmbd/wbuffer"
)

// Flags is a bitset of per-request write flags.
type Flags uint8

const (
	// FlagFlush demands all previously completed writes be durable
	// before the flush completes.
	FlagFlush Flags = 1 << iota
	// FlagFUA demands this write be durable before completion.
	FlagFUA
	// FlagSync has no semantics in the core; it is accepted and ignored.
	FlagSync
)

// Device is one activated PMBD instance: a memory region, a PBI table,
// a checksum table, an optional DRAM write buffer, a block-permission
// gate, a latency/bandwidth emulator, and the barrier gate and
// in-flight-writes counter that together enforce the lock hierarchy
// (barrier gate above per-block locks above the write buffer's own
// locks above the gate's CR0 critical section).
type Device struct {
	ID   string
	Name string

	cfg     config.Config
	backing region.Backing
	pbiTbl  *pbi.Table
	gate    *gate.Gate
	sums    *checksum.Store
	bufSet  *wbuffer.Set
	emu     *emulator.Emulator
	policy  copyops.Policy

	counters *diag.Counters
	stages   *diag.StageTimer
	cpuHint  int64

	numBlocks uint64

	barrierGate    sync.RWMutex
	inFlightWrites int64
}

// nextCPU returns a per-request pseudo-processor index used to spread
// per-stage cycle accounting across StageTimer's buckets. The
// dispatcher has no real CPU-affinity mechanism to consult, so this is
// a rotating counter rather than the requesting goroutine's actual
// core.
func (d *Device) nextCPU() int {
	return int(atomic.AddInt64(&d.cpuHint, 1))
}

// Activate builds and starts a Device from cfg against a real
// mmap-backed region. It activates the block-permission gate,
// allocates the PBI and checksum tables, builds the DRAM write buffer
// set (if enabled) and starts its background flushers, and detects the
// host CPU frequency the emulator needs.
func Activate(name string, cfg config.Config) (*Device, error) {
	backing, err := region.Map(cfg.Capacity, cfg.Cache)
	if err != nil {
		return nil, err
	}

	d, err := ActivateWithBacking(name, cfg, backing)
	if err != nil {
		_ = backing.Unmap()
		return nil, err
	}
	return d, nil
}

// ActivateWithBacking builds a Device against an already-constructed
// Backing, bypassing the mmap Activate performs. Production callers
// should use Activate; this seam exists so the dispatcher and barrier
// coordinator can be exercised in tests against a mocks.MockBacking
// instead of a real mapped region.
func ActivateWithBacking(name string, cfg config.Config, backing region.Backing) (*Device, error) {
	numBlocks := cfg.Capacity / cfg.BlockSize

	d := &Device{
		ID:        xid.New().String(),
		Name:      name,
		cfg:       cfg,
		backing:   backing,
		pbiTbl:    pbi.NewTable(numBlocks),
		numBlocks: numBlocks,
		counters:  diag.NewCounters(),
		stages:    diag.NewStageTimer(),
		policy: copyops.Policy{
			NTS:       cfg.NTS,
			NTL:       cfg.NTL,
			Clflush:   cfg.Clflush,
			Subupdate: cfg.Subupdate,
			Cache:     cfg.Cache,
		},
	}

	d.gate = gate.New(backing, cfg.Wrprot, cfg.WPMode)
	if err := d.gate.Activate(); err != nil {
		return nil, err
	}

	if cfg.Checksum {
		d.sums = checksum.NewStore(numBlocks, cfg.BlockSize)
	}

	if cfg.BufEnabled {
		capacity := cfg.BufSize / cfg.BlockSize
		buffers := make([]*wbuffer.Buffer, cfg.BufCount)
		flushers := make([]*wbuffer.Flusher, cfg.BufCount)
		for i := 0; i < cfg.BufCount; i++ {
			buffers[i] = wbuffer.New(i, capacity, wbuffer.Deps{
				PBITable:  d.pbiTbl,
				Backing:   backing,
				Gate:      d.gate,
				Policy:    d.policy,
				Checksum:  d.sums,
				Wrverify:  cfg.Wrverify,
				WPMode:    cfg.WPMode,
				BlockSize: cfg.BlockSize,
				Stages:    d.stages,
			})
			flushers[i] = wbuffer.NewFlusher(buffers[i], cfg.BufBatch, d.counters.LastAccessPtr())
		}
		bufSet, err := wbuffer.NewSet(buffers, flushers, cfg.BufStride)
		if err != nil {
			return nil, err
		}
		d.bufSet = bufSet
		d.bufSet.Start()
	}

	// rdpause/wrpause are configured in cycles; emulator.Params carries
	// the pause in nanoseconds, so convert through the detected frequency.
	freqHz := emulator.DetectCPUFreqHz()
	d.emu = emulator.New(freqHz, cfg.SectorSize, cfg.BlockSize,
		emulator.Params{LatencyNS: cfg.RdLatNS, BWMBps: cfg.RdBWMBps, SX: cfg.RdSX, PauseNS: cfg.RdPause * 1_000_000_000 / freqHz},
		emulator.Params{LatencyNS: cfg.WrLatNS, BWMBps: cfg.WrBWMBps, SX: cfg.WrSX, PauseNS: cfg.WrPause * 1_000_000_000 / freqHz},
	)
	d.emu.SetStages(d.stages)

	return d, nil
}

// unmapper is implemented by backings that own an OS-level mapping
// requiring explicit release; region.Region is one, mocks.MockBacking
// is not.
type unmapper interface {
	Unmap() error
}

// Close tears the device down: it drains and stops any write buffer,
// deactivates the gate, and unmaps the region if the backing owns one.
func (d *Device) Close() error {
	if d.bufSet != nil {
		if err := d.bufSet.StopAll(); err != nil {
			return err
		}
	}
	if err := d.gate.Deactivate(); err != nil {
		return err
	}
	if u, ok := d.backing.(unmapper); ok {
		return u.Unmap()
	}
	return nil
}

// Counters exposes the device's diagnostic counters.
func (d *Device) Counters() *diag.Counters { return d.counters }

// Stages exposes the device's per-stage cycle timer.
func (d *Device) Stages() *diag.StageTimer { return d.stages }

// Capacity returns the device's addressable capacity in bytes.
func (d *Device) Capacity() uint64 { return d.cfg.Capacity }

// checkRange validates a byte range against device capacity and sector
// alignment.
func (d *Device) checkRange(byteOffset, length uint64) error {
	if length == 0 {
		return nil
	}
	if byteOffset%d.cfg.SectorSize != 0 || length%d.cfg.SectorSize != 0 {
		return fmt.Errorf("%w: request [%d,%d) is not sector-aligned",
			pmbderr.ErrOutOfRange, byteOffset, byteOffset+length)
	}
	if byteOffset+length > d.cfg.Capacity {
		return fmt.Errorf("%w: request [%d,%d) exceeds capacity %d",
			pmbderr.ErrOutOfRange, byteOffset, byteOffset+length, d.cfg.Capacity)
	}
	return nil
}

// segment is one physical block's overlap with a request's byte range.
type segment struct {
	pbn          uint64
	blockOffset  uint64 // offset within the block
	length       uint64
	bufferOffset uint64 // offset within the caller's dst/src slice
}

// segments decomposes [byteOffset, byteOffset+length) into per-block
// segments, handling leading/trailing partial blocks.
func (d *Device) segments(byteOffset, length uint64) []segment {
	if length == 0 {
		return nil
	}
	bs := d.cfg.BlockSize
	var segs []segment
	pos := byteOffset
	end := byteOffset + length
	for pos < end {
		pbn := pos / bs
		blockStart := pbn * bs
		blockEnd := blockStart + bs
		segEnd := end
		if segEnd > blockEnd {
			segEnd = blockEnd
		}
		segs = append(segs, segment{
			pbn:          pbn,
			blockOffset:  pos - blockStart,
			length:       segEnd - pos,
			bufferOffset: pos - byteOffset,
		})
		pos = segEnd
	}
	return segs
}

func (d *Device) lockEntry(pbn uint64) *pbi.PBI {
	entry := d.pbiTbl.Get(pbn)
	if d.cfg.Lock {
		entry.Lock()
	}
	return entry
}

func (d *Device) unlockEntry(entry *pbi.PBI) {
	if d.cfg.Lock {
		entry.Unlock()
	}
}

// spinUntilNoInFlightWrites busy-waits (yielding the OS thread between
// checks) until every write admitted before this call has completed.
func (d *Device) spinUntilNoInFlightWrites() {
	for atomic.LoadInt64(&d.inFlightWrites) != 0 {
		runtime.Gosched()
	}
}
