// Package pbi implements the per-block index: one lock and one
// buffer-slot link per physical block. The PBI lock serializes every
// access, read, write, or buffer-link mutation, to its block.
package pbi

import (
	"log"
	"sync"

	"github.com/sarchlab/pmbd/pmbderr"
)

// Unbuffered is the sentinel bbn_or_sentinel value meaning "this block
// is not currently buffered".
const Unbuffered uint64 = ^uint64(0)

// PBI is one physical-block-info entry. The zero value is a valid,
// unlocked, unbuffered entry.
type PBI struct {
	mu  sync.Mutex
	bbn uint64
}

// Lock acquires the block's lock. Every read, write, or buffer-link
// mutation against the block must happen while holding it.
func (p *PBI) Lock() { p.mu.Lock() }

// Unlock releases the block's lock.
func (p *PBI) Unlock() { p.mu.Unlock() }

// BBN returns the buffer slot this block is linked to, or Unbuffered.
// Must be called while holding the lock.
func (p *PBI) BBN() uint64 { return p.bbn }

// Buffered reports whether the block currently has a valid buffer link.
// Must be called while holding the lock.
func (p *PBI) Buffered() bool { return p.bbn != Unbuffered }

// SetBBN links the block to the given buffer slot. Must be called while
// holding the lock.
func (p *PBI) SetBBN(bbn uint64) { p.bbn = bbn }

// Unlink clears the block's buffer link. Must be called while holding
// the lock.
func (p *PBI) Unlink() { p.bbn = Unbuffered }

// Table is the PBN-indexed array of PBI entries a device owns for the
// lifetime of its activation.
type Table struct {
	entries []PBI
}

// NewTable allocates a Table with one PBI per block, all unbuffered.
func NewTable(numBlocks uint64) *Table {
	t := &Table{entries: make([]PBI, numBlocks)}
	for i := range t.entries {
		t.entries[i].bbn = Unbuffered
	}
	return t
}

// NumBlocks returns the number of PBI entries in the table.
func (t *Table) NumBlocks() uint64 { return uint64(len(t.entries)) }

// Get returns the PBI for the given physical block number. It panics
// with an ErrInternalInvariant-tagged message on out-of-range PBNs,
// since a PBN outside the table is always a caller bug rather than a
// recoverable runtime condition — callers are expected to have already
// bounds-checked the request against device capacity.
func (t *Table) Get(pbn uint64) *PBI {
	if pbn >= uint64(len(t.entries)) {
		log.Panicf("%v: pbi.Get(%d) exceeds table size %d",
			pmbderr.ErrInternalInvariant, pbn, len(t.entries))
	}
	return &t.entries[pbn]
}
