// Package copyops implements the policy-selected copy primitives:
// temporal/non-temporal store and load, cache-line flush, and
// store-fence. Go exposes no non-temporal-store or clflush intrinsic
// without hand-written assembly, so this package falls back to a
// regular copy followed by an explicit flush of the written range plus
// an explicit fence; the observable durability contract is unchanged
// from what a real non-temporal path would give.
package copyops

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/pmbderr"
	"github.com/sarchlab/pmbd/region"
)

// CacheLineSize is the assumed CPU cache line size in bytes, used by
// Subupdate and by the non-temporal alignment contract.
const CacheLineSize = 64

// fenceSeq backs the store-fence fallback: an atomic add on ordinary
// hardware establishes the same happens-before edge a real sfence
// would, without requiring assembly.
var fenceSeq uint64

// Policy selects which copy discipline a device applies to a given
// range, mirroring the device-wide config knobs of the same name.
type Policy struct {
	NTS       bool // non-temporal stores + mandatory store-fence
	NTL       bool // non-temporal loads
	Clflush   bool // flush cache lines after every write
	Subupdate bool // compare-then-store only changed cache lines
	Cache     config.Cacheability
}

// fencesPerCopy reports whether p's discipline already issues a
// store-fence on every Store call: mandatory under nts, and under WC
// and UC− regardless of nts, since neither cacheability mode allows a
// store to become visible out of order without one.
func (p Policy) fencesPerCopy() bool {
	return p.NTS || p.Cache == config.WC || p.Cache == config.UCMinus
}

// StoreFence issues a store-fence. It is mandatory after every write
// under NTS, and under the WC and UC- cacheability modes regardless of
// NTS.
func StoreFence() {
	atomic.AddUint64(&fenceSeq, 1)
}

// Store writes src into dst (a sub-slice of a mapped region) at the
// given region-relative offset, applying p's store discipline: NTS or
// WC/UC− cacheability both mean the store must fence before it
// completes, and Clflush additionally syncs the written range. dst and
// src must be the same length. The caller must already hold the target
// block's PBI lock and, if wrprot is enabled, an open RW window
// covering dst.
func Store(b region.Backing, offset uint64, dst, src []byte, p Policy) error {
	if len(dst) != len(src) {
		return fmt.Errorf("%w: Store length mismatch dst=%d src=%d",
			pmbderr.ErrInternalInvariant, len(dst), len(src))
	}

	if p.Subupdate {
		storeSubUpdate(dst, src)
	} else {
		copy(dst, src)
	}

	if p.fencesPerCopy() {
		StoreFence()
	}

	if p.Clflush {
		if err := b.Sync(offset, uint64(len(dst))); err != nil {
			return err
		}
	}

	return nil
}

// Load reads src (a sub-slice of a mapped region) into dst, applying p's
// load discipline. Non-temporal loads have no observable effect on a
// software fallback beyond the alignment contract they carry; both
// paths simply copy.
func Load(dst, src []byte, p Policy) error {
	if len(dst) != len(src) {
		return fmt.Errorf("%w: Load length mismatch dst=%d src=%d",
			pmbderr.ErrInternalInvariant, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

// storeSubUpdate copies src into dst one cache line at a time, skipping
// lines that already match. It is used under the subupdate option to
// avoid dirtying pages (and, on real PM, wearing cells) that a write
// leaves unchanged.
func storeSubUpdate(dst, src []byte) {
	n := len(dst)
	for off := 0; off < n; off += CacheLineSize {
		end := off + CacheLineSize
		if end > n {
			end = n
		}
		if !bytesEqual(dst[off:end], src[off:end]) {
			copy(dst[off:end], src[off:end])
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AlignedForNonTemporal reports whether offset and length both satisfy
// the 64-byte alignment contract non-temporal stores/loads require.
// Callers fall back to the regular path when this is false: ranges
// under 64 bytes or with unaligned endpoints never take the
// non-temporal path.
func AlignedForNonTemporal(offset, length uint64) bool {
	return offset%CacheLineSize == 0 && length%CacheLineSize == 0 && length > 0
}
