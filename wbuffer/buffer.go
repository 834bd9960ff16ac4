// Package wbuffer implements the per-block DRAM write buffer (component
// E): a fixed-capacity ring of dirty-block slots with a background
// flusher that sorts and batch-writes contiguous runs into the backing
// region. The concurrency shape (a lock guarding the ring triple plus a
// second lock serialising flushers) is grounded on the
// buffer_lock/flush_lock pair of the original pmbd_buffer struct.
package wbuffer

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sarchlab/pmbd/checksum"
	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/copyops"
	"github.com/sarchlab/pmbd/diag"
	"github.com/sarchlab/pmbd/gate"
	"github.com/sarchlab/pmbd/pbi"
	"github.com/sarchlab/pmbd/pmbderr"
	"github.com/sarchlab/pmbd/region"
)

// bbi is one buffer-block-info entry: which physical block a slot
// shadows, and whether that shadow is dirty.
type bbi struct {
	pbn   uint64
	dirty bool
}

// sortEntry pairs a slot with the block it shadows, for sorting the
// dirty set by PBN before forming contiguous runs.
type sortEntry struct {
	bbn uint64
	pbn uint64
}

// Deps bundles the collaborators a Buffer needs to flush into the
// region: the shared PBI table, the backing region, the block-permission
// gate, the copy policy, and (optionally) the checksum store.
type Deps struct {
	PBITable  *pbi.Table
	Backing   region.Backing
	Gate      *gate.Gate
	Policy    copyops.Policy
	Checksum  *checksum.Store // nil if checksum is disabled
	Wrverify  bool
	WPMode    config.WPMode
	BlockSize uint64
	Stages    *diag.StageTimer // nil disables per-stage cycle accounting
}

// Buffer is one DRAM write buffer: a slot array plus a dirty-range
// ring triple.
//
//	pos_dirty --v     v-- pos_clean
//	[  clean  | DIRTY | clean  ]
type Buffer struct {
	id        int
	blockSize uint64
	capacity  uint64

	slots []byte // capacity * blockSize bytes, slot i at [i*blockSize, (i+1)*blockSize)
	bbis  []bbi

	posDirty uint64
	posClean uint64
	numDirty uint64

	bufferLock sync.Mutex
	flushLock  sync.Mutex

	scratch []sortEntry

	deps Deps
}

// New allocates a Buffer with room for `capacity` blocks of blockSize
// bytes each.
func New(id int, capacity uint64, deps Deps) *Buffer {
	b := &Buffer{
		id:        id,
		blockSize: deps.BlockSize,
		capacity:  capacity,
		slots:     make([]byte, capacity*deps.BlockSize),
		bbis:      make([]bbi, capacity),
		scratch:   make([]sortEntry, 0, capacity),
		deps:      deps,
	}
	return b
}

// Capacity returns the number of slots in the buffer.
func (b *Buffer) Capacity() uint64 { return b.capacity }

// NumDirty returns the current number of dirty slots.
func (b *Buffer) NumDirty() uint64 {
	b.bufferLock.Lock()
	defer b.bufferLock.Unlock()
	return b.numDirty
}

// Full reports whether the buffer has no clean slots left to allocate.
func (b *Buffer) Full() bool { return b.NumDirty() == b.capacity }

func (b *Buffer) slot(bbn uint64) []byte {
	off := bbn * b.blockSize
	return b.slots[off : off+b.blockSize]
}

// Lookup returns the buffer slot bytes for pbn if it is currently
// buffered, and whether it was found. The caller must already hold
// pbn's PBI lock.
func (b *Buffer) Lookup(entry *pbi.PBI) (data []byte, ok bool) {
	if !entry.Buffered() {
		return nil, false
	}
	return b.slot(entry.BBN()), true
}

// Alloc reserves a slot for pbn, marks it dirty, and links entry to it.
// The caller must already hold entry's PBI lock (which excludes
// concurrent readers of pbn, making it safe to mark the slot dirty
// before it is populated). If the buffer is full, Alloc synchronously
// flushes batches until a slot frees up.
func (b *Buffer) Alloc(pbn uint64, entry *pbi.PBI, batch int) ([]byte, error) {
	b.bufferLock.Lock()
	for b.numDirty == b.capacity {
		b.bufferLock.Unlock()
		if _, err := b.Flush(batch); err != nil {
			return nil, err
		}
		b.bufferLock.Lock()
	}

	bbn := b.posClean
	b.bbis[bbn] = bbi{pbn: pbn, dirty: true}
	entry.SetBBN(bbn)
	b.posClean = (b.posClean + 1) % b.capacity
	b.numDirty++
	b.bufferLock.Unlock()

	return b.slot(bbn), nil
}

// Flush cleans up to nTarget dirty slots: it sorts the scanned dirty
// range by PBN (PTE mode only — CR0 windows are free so sorting buys
// nothing), widens each maximal contiguous PBN run into a single RW
// window, and streams the runs into the region.
func (b *Buffer) Flush(nTarget int) (cleaned int, err error) {
	b.flushLock.Lock()
	defer b.flushLock.Unlock()

	b.bufferLock.Lock()
	n := uint64(nTarget)
	if n > b.numDirty {
		n = b.numDirty
	}
	b.scratch = b.scratch[:0]
	for i := uint64(0); i < n; i++ {
		bbn := (b.posDirty + i) % b.capacity
		b.scratch = append(b.scratch, sortEntry{bbn: bbn, pbn: b.bbis[bbn].pbn})
	}
	b.bufferLock.Unlock()

	if len(b.scratch) == 0 {
		return 0, nil
	}

	if b.deps.WPMode == config.PTEMode {
		sort.Slice(b.scratch, func(i, j int) bool { return b.scratch[i].pbn < b.scratch[j].pbn })
	}

	runs := contiguousRuns(b.scratch)
	cleanedCount := 0
	for _, run := range runs {
		if err := b.flushRun(run); err != nil {
			return cleanedCount, err
		}
		cleanedCount += len(run)
	}

	b.bufferLock.Lock()
	b.posDirty = (b.posDirty + uint64(cleanedCount)) % b.capacity
	if uint64(cleanedCount) > b.numDirty {
		b.bufferLock.Unlock()
		return cleanedCount, fmt.Errorf("%w: flushed %d slots but only %d were dirty",
			pmbderr.ErrInternalInvariant, cleanedCount, b.numDirty)
	}
	b.numDirty -= uint64(cleanedCount)
	b.bufferLock.Unlock()

	return cleanedCount, nil
}

// recordStage reports d's flush-path stage timings under this buffer's
// id as the processor bucket, direction always write since a buffer
// only ever flushes writes. A nil Stages disables it.
func (b *Buffer) recordStage(stage diag.Stage, start time.Time) {
	if b.deps.Stages == nil {
		return
	}
	b.deps.Stages.Since(start, b.id, stage, diag.Write)
}

// flushRun opens one RW window over a maximal contiguous PBN run and
// streams every still-dirty slot in it into the region, in order.
func (b *Buffer) flushRun(run []sortEntry) error {
	first := run[0].pbn
	last := run[len(run)-1].pbn
	offset := first * b.blockSize
	length := (last - first + 1) * b.blockSize

	pmapStart := time.Now()
	win, err := b.deps.Gate.Open(offset, length)
	b.recordStage(diag.StagePmap, pmapStart)
	if err != nil {
		return err
	}

	type lockedBlock struct {
		pbn    uint64
		entry  *pbi.PBI
		data   []byte // slot bytes just written, nil if the slot was already clean
	}
	locked := make([]lockedBlock, len(run))

	for i, e := range run {
		entry := b.deps.PBITable.Get(e.pbn)
		entry.Lock()
		locked[i] = lockedBlock{pbn: e.pbn, entry: entry}

		if b.bbis[e.bbn].dirty {
			dst := b.deps.Backing.Bytes()[e.pbn*b.blockSize : (e.pbn+1)*b.blockSize]
			src := b.slot(e.bbn)
			storeStart := time.Now()
			err := copyops.Store(b.deps.Backing, e.pbn*b.blockSize, dst, src, b.deps.Policy)
			if b.deps.Policy.Clflush {
				b.recordStage(diag.StageClflush, storeStart)
			} else {
				b.recordStage(diag.StageMemcpy, storeStart)
			}
			if err != nil {
				for _, lb := range locked {
					lb.entry.Unlock()
				}
				_ = win.Close()
				return err
			}
			b.bbis[e.bbn].dirty = false
			locked[i].data = src
		}
	}

	punmapStart := time.Now()
	closeErr := win.Close()
	b.recordStage(diag.StagePunmap, punmapStart)

	var firstErr error
	for _, lb := range locked {
		if closeErr == nil && lb.data != nil {
			if b.deps.Wrverify {
				verifyStart := time.Now()
				err := gate.Verify(b.deps.Backing, lb.pbn*b.blockSize, lb.data)
				b.recordStage(diag.StageWrverify, verifyStart)
				if err != nil {
					log.Panic(err)
				}
			}
			if b.deps.Checksum != nil {
				checksumStart := time.Now()
				err := b.deps.Checksum.OnWrite(b.deps.Backing, lb.pbn)
				b.recordStage(diag.StageChecksum, checksumStart)
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}
			lb.entry.Unlink()
		}
		lb.entry.Unlock()
	}

	if closeErr != nil {
		return closeErr
	}
	return firstErr
}

// contiguousRuns groups a PBN-sorted (in PTE mode; otherwise
// arrival-ordered, since CR0 windows are free) slice of sortEntry into
// maximal runs of consecutive physical block numbers.
func contiguousRuns(scratch []sortEntry) [][]sortEntry {
	var runs [][]sortEntry
	start := 0
	for i := 1; i <= len(scratch); i++ {
		if i == len(scratch) || scratch[i].pbn != scratch[i-1].pbn+1 {
			runs = append(runs, scratch[start:i])
			start = i
		}
	}
	return runs
}
