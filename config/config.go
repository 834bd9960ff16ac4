// Package config builds the immutable configuration record a pmbd device
// activates from. It offers the same chained-builder shape used by
// idealmemcontroller.Builder and simplebankedmemory.Builder elsewhere in
// this ecosystem, plus an options-string front end for callers that would
// otherwise hand-parse a "key=val,key2=val2" string.
package config

import (
	"fmt"

	"github.com/sarchlab/pmbd/pmbderr"
)

// Cacheability selects the page cacheability mode of a memory region.
type Cacheability int

const (
	// WB is write-back, the default cacheable mode.
	WB Cacheability = iota
	// WC is write-combining.
	WC
	// UC is strongly uncacheable.
	UC
	// UCMinus is uncacheable but overridable by WC (PAT "UC-").
	UCMinus
)

func (c Cacheability) String() string {
	switch c {
	case WB:
		return "WB"
	case WC:
		return "WC"
	case UC:
		return "UC"
	case UCMinus:
		return "UC-"
	default:
		return fmt.Sprintf("Cacheability(%d)", int(c))
	}
}

// WPMode selects how the block-permission gate opens an RW window.
type WPMode int

const (
	// PTEMode toggles the write bit of each page's page-table entry.
	PTEMode WPMode = iota
	// CR0Mode disables interrupts and flips the processor-wide
	// write-protect-enable bit for the duration of the window.
	CR0Mode
)

func (m WPMode) String() string {
	switch m {
	case PTEMode:
		return "PTE"
	case CR0Mode:
		return "CR0"
	default:
		return fmt.Sprintf("WPMode(%d)", int(m))
	}
}

// SimMode selects where the latency/bandwidth emulator wraps its timing.
type SimMode int

const (
	// SimModeRequest wraps the whole request (default).
	SimModeRequest SimMode = 0
	// SimModeMemcpy wraps each memcpy inside the buffered write path,
	// simulating slow PM sitting under a DRAM write buffer.
	SimModeMemcpy SimMode = 1
)

const (
	// DefaultBlockSize is the physical block size in bytes (4 KiB).
	DefaultBlockSize = 4096
	// DefaultSectorSize is the request-level unit in bytes (512 B).
	DefaultSectorSize = 512
	// MinBufSize is the smallest DRAM write-buffer geometry accepted;
	// smaller configurations fail activation with ErrBadConfig.
	MinBufSize = 4 << 20 // 4 MiB
)

// Config is the immutable, validated configuration record a device
// activates from.
type Config struct {
	Cache   Cacheability
	NTS     bool
	NTL     bool
	Clflush bool
	WB      bool
	FUA     bool
	Wrprot  bool
	WPMode  WPMode

	Wrverify  bool
	Checksum  bool
	Lock      bool
	Subupdate bool

	BufEnabled bool
	BufSize    uint64
	BufCount   int
	BufStride  uint64
	BufBatch   int

	RdLatNS  uint64
	WrLatNS  uint64
	RdBWMBps uint64
	WrBWMBps uint64
	RdSX     uint64
	WrSX     uint64
	RdPause  uint64
	WrPause  uint64
	SimMode  SimMode

	BlockSize  uint64
	SectorSize uint64
	Capacity   uint64 // bytes
}

// Builder accumulates configuration options before validation. Every
// With* method returns a new value, mirroring idealmemcontroller.Builder
// and simplebankedmemory.Builder's fluent shape so call chains can be
// composed and reused freely.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder seeded with the device's defaults.
func NewBuilder() Builder {
	return Builder{cfg: Config{
		Cache:      WB,
		WPMode:     PTEMode,
		BlockSize:  DefaultBlockSize,
		SectorSize: DefaultSectorSize,
		BufCount:   1,
		BufStride:  1,
		BufBatch:   32,
		Lock:       true,
		SimMode:    SimModeRequest,
	}}
}

// WithCache sets the region cacheability.
func (b Builder) WithCache(c Cacheability) Builder { b.cfg.Cache = c; return b }

// WithNTS enables non-temporal stores plus a store-fence on every write.
func (b Builder) WithNTS(v bool) Builder { b.cfg.NTS = v; return b }

// WithNTL enables non-temporal loads; per spec this forces cache=WC.
func (b Builder) WithNTL(v bool) Builder {
	b.cfg.NTL = v
	if v {
		b.cfg.Cache = WC
	}
	return b
}

// WithClflush makes every write range flush its cache lines afterward.
func (b Builder) WithClflush(v bool) Builder { b.cfg.Clflush = v; return b }

// WithWriteBarrier honours FLUSH requests as write barriers.
func (b Builder) WithWriteBarrier(v bool) Builder { b.cfg.WB = v; return b }

// WithFUA honours the FUA request flag.
func (b Builder) WithFUA(v bool) Builder { b.cfg.FUA = v; return b }

// WithWrprot keeps pages read-only outside explicit RW windows.
func (b Builder) WithWrprot(v bool) Builder { b.cfg.Wrprot = v; return b }

// WithWPMode selects how RW windows are opened.
func (b Builder) WithWPMode(m WPMode) Builder { b.cfg.WPMode = m; return b }

// WithWrverify reads back and compares every write.
func (b Builder) WithWrverify(v bool) Builder { b.cfg.Wrverify = v; return b }

// WithChecksum maintains the per-block CRC-32 table.
func (b Builder) WithChecksum(v bool) Builder { b.cfg.Checksum = v; return b }

// WithLock serialises per-block accesses via the PBI lock.
func (b Builder) WithLock(v bool) Builder { b.cfg.Lock = v; return b }

// WithSubupdate compares source and destination by cache line and only
// stores changed lines.
func (b Builder) WithSubupdate(v bool) Builder { b.cfg.Subupdate = v; return b }

// WithBuffer enables the DRAM write buffer with the given geometry.
func (b Builder) WithBuffer(size uint64, count int, stride uint64, batch int) Builder {
	b.cfg.BufEnabled = true
	b.cfg.BufSize = size
	b.cfg.BufCount = count
	b.cfg.BufStride = stride
	b.cfg.BufBatch = batch
	return b
}

// WithRdLat sets the emulated read access-time floor, in nanoseconds.
func (b Builder) WithRdLat(ns uint64) Builder { b.cfg.RdLatNS = ns; return b }

// WithWrLat sets the emulated write access-time floor, in nanoseconds.
func (b Builder) WithWrLat(ns uint64) Builder { b.cfg.WrLatNS = ns; return b }

// WithRdBW sets the emulated read bandwidth ceiling, in MB/s (0 disables).
func (b Builder) WithRdBW(mbps uint64) Builder { b.cfg.RdBWMBps = mbps; return b }

// WithWrBW sets the emulated write bandwidth ceiling, in MB/s (0 disables).
func (b Builder) WithWrBW(mbps uint64) Builder { b.cfg.WrBWMBps = mbps; return b }

// WithRdSX sets the read slowdown factor (X-1 extra cycles per observed cycle).
func (b Builder) WithRdSX(x uint64) Builder { b.cfg.RdSX = x; return b }

// WithWrSX sets the write slowdown factor.
func (b Builder) WithWrSX(x uint64) Builder { b.cfg.WrSX = x; return b }

// WithRdPause sets a fixed read pause per 4 KiB, in cycles.
func (b Builder) WithRdPause(cycles uint64) Builder { b.cfg.RdPause = cycles; return b }

// WithWrPause sets a fixed write pause per 4 KiB, in cycles.
func (b Builder) WithWrPause(cycles uint64) Builder { b.cfg.WrPause = cycles; return b }

// WithSimMode selects whether emulation wraps the whole request or each
// buffered-path memcpy.
func (b Builder) WithSimMode(m SimMode) Builder { b.cfg.SimMode = m; return b }

// WithBlockSize overrides the physical block size (default 4 KiB).
func (b Builder) WithBlockSize(n uint64) Builder { b.cfg.BlockSize = n; return b }

// WithCapacity sets the device capacity in bytes.
func (b Builder) WithCapacity(n uint64) Builder { b.cfg.Capacity = n; return b }

// Build validates the accumulated options and returns the immutable
// Config, or ErrBadConfig describing the first inconsistency found.
func (b Builder) Build() (Config, error) {
	c := b.cfg

	if c.BlockSize == 0 || c.BlockSize%c.SectorSize != 0 {
		return Config{}, fmt.Errorf("%w: block size %d is not a multiple of sector size %d",
			pmbderr.ErrBadConfig, c.BlockSize, c.SectorSize)
	}
	if c.Capacity == 0 || c.Capacity%c.BlockSize != 0 {
		return Config{}, fmt.Errorf("%w: capacity %d is not block-aligned (block size %d)",
			pmbderr.ErrBadConfig, c.Capacity, c.BlockSize)
	}
	if c.BufEnabled {
		if c.BufSize < MinBufSize {
			return Config{}, fmt.Errorf("%w: buf.size %d is below the %d minimum",
				pmbderr.ErrBadConfig, c.BufSize, uint64(MinBufSize))
		}
		if c.BufCount < 1 {
			return Config{}, fmt.Errorf("%w: buf.count must be >= 1, got %d",
				pmbderr.ErrBadConfig, c.BufCount)
		}
		if c.BufStride < 1 {
			return Config{}, fmt.Errorf("%w: buf.stride must be >= 1, got %d",
				pmbderr.ErrBadConfig, c.BufStride)
		}
		if c.BufBatch < 1 {
			return Config{}, fmt.Errorf("%w: buf.batch must be >= 1, got %d",
				pmbderr.ErrBadConfig, c.BufBatch)
		}
	}
	if c.NTL && c.Cache != WC {
		return Config{}, fmt.Errorf("%w: ntl requires cache=WC, got %s",
			pmbderr.ErrBadConfig, c.Cache)
	}
	if c.Wrprot && c.WPMode == CR0Mode && c.BufEnabled && c.BufCount > 1 {
		// CR0 windows are a single global critical section; they cannot be
		// entered concurrently from more than one buffer's flusher, so a
		// multi-buffer device must use PTE mode.
		return Config{}, fmt.Errorf(
			"%w: wpmode=CR0 is incompatible with buf.count>1 (got %d), use wpmode=PTE",
			pmbderr.ErrBadConfig, c.BufCount)
	}

	return c, nil
}
