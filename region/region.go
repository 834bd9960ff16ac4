// Package region owns the contiguous byte-addressable backing store a
// pmbd device exposes as a block device. It is backed by a real
// anonymous mmap through golang.org/x/sys/unix so the block-permission
// gate (package gate) can toggle page write permission with a real
// mprotect(2) call instead of a simulated one.
package region

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/pmbderr"
)

// Backing is the byte-addressable, page-protectable memory surface a
// device operates on. Production code gets it from Map; tests substitute
// a mocks.MockBacking so the dispatcher and barrier coordinator can be
// exercised without a real mapping.
type Backing interface {
	// Bytes returns the full backing slice. Callers must only touch the
	// range they hold the corresponding PBI lock (and RW window, if
	// wrprot is enabled) for.
	Bytes() []byte
	// Len returns the region length in bytes.
	Len() uint64
	// Protect sets the write permission of the page range covering
	// [offset, offset+length) via mprotect. It must be page-aligned.
	Protect(offset, length uint64, writable bool) error
	// Sync forces the given byte range to be written back, standing in
	// for a cache-line flush when no clflush intrinsic is available (see
	// copyops for the fallback discipline).
	Sync(offset, length uint64) error
	// Cacheability reports the cacheability mode most recently set.
	Cacheability() config.Cacheability
}

// Region is the real, mmap-backed implementation of Backing.
type Region struct {
	data         []byte
	pageSize     uint64
	cacheability config.Cacheability
	mapped       bool
}

// Map reserves length bytes of anonymous memory, page-aligned, and
// returns a Region with its cacheability already set to cache. length
// must be a multiple of the OS page size.
func Map(length uint64, cache config.Cacheability) (*Region, error) {
	pageSize := uint64(unix.Getpagesize())
	if length == 0 || length%pageSize != 0 {
		return nil, fmt.Errorf("%w: region length %d is not page-aligned (page size %d)",
			pmbderr.ErrBadConfig, length, pageSize)
	}

	data, err := unix.Mmap(-1, 0, int(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", pmbderr.ErrOutOfMemory, length, err)
	}

	r := &Region{
		data:     data,
		pageSize: pageSize,
		mapped:   true,
	}
	if err := r.SetCacheability(cache); err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	return r, nil
}

// Bytes returns the backing slice.
func (r *Region) Bytes() []byte { return r.data }

// Len returns the region length in bytes.
func (r *Region) Len() uint64 { return uint64(len(r.data)) }

// Cacheability reports the cacheability mode most recently set.
func (r *Region) Cacheability() config.Cacheability { return r.cacheability }

// SetCacheability records the page cacheability mode. Real x86 PAT/MTRR
// manipulation requires ring-0 privilege the Go runtime never has; on the
// hosts pmbd actually runs the emulator on, this call is a bookkeeping
// operation the rest of the core reads to select its copy and fence
// discipline (package copyops), the same mode value used consistently
// everywhere cacheability affects behavior.
func (r *Region) SetCacheability(mode config.Cacheability) error {
	if !r.mapped {
		return fmt.Errorf("%w: SetCacheability on unmapped region", pmbderr.ErrInternalInvariant)
	}
	r.cacheability = mode
	return nil
}

// Protect sets the write permission of the page range covering
// [offset, offset+length) using mprotect(2). Both bounds must be
// page-aligned; block size defaults to the page size so PBN-sized runs
// satisfy this automatically.
func (r *Region) Protect(offset, length uint64, writable bool) error {
	if !r.mapped {
		return fmt.Errorf("%w: Protect on unmapped region", pmbderr.ErrInternalInvariant)
	}
	if offset%r.pageSize != 0 || length%r.pageSize != 0 {
		return fmt.Errorf("%w: Protect range [%d,%d) is not page-aligned",
			pmbderr.ErrInternalInvariant, offset, offset+length)
	}
	if offset+length > uint64(len(r.data)) {
		return fmt.Errorf("%w: Protect range [%d,%d) exceeds region length %d",
			pmbderr.ErrOutOfRange, offset, offset+length, len(r.data))
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	if err := unix.Mprotect(r.data[offset:offset+length], prot); err != nil {
		return fmt.Errorf("%w: mprotect [%d,%d) writable=%v: %v",
			pmbderr.ErrInternalInvariant, offset, offset+length, writable, err)
	}
	return nil
}

// Sync flushes the given byte range's dirty pages back, standing in for
// a per-range cache-line flush (see copyops.Store).
func (r *Region) Sync(offset, length uint64) error {
	if !r.mapped {
		return fmt.Errorf("%w: Sync on unmapped region", pmbderr.ErrInternalInvariant)
	}
	if offset+length > uint64(len(r.data)) {
		return fmt.Errorf("%w: Sync range [%d,%d) exceeds region length %d",
			pmbderr.ErrOutOfRange, offset, offset+length, len(r.data))
	}

	lo := (offset / r.pageSize) * r.pageSize
	hi := ((offset + length + r.pageSize - 1) / r.pageSize) * r.pageSize
	if hi > uint64(len(r.data)) {
		hi = uint64(len(r.data))
	}
	if err := unix.Msync(r.data[lo:hi], unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync [%d,%d): %v", pmbderr.ErrInternalInvariant, lo, hi, err)
	}
	return nil
}

// Unmap restores WB cacheability and releases the mapping. It is a
// no-op if the region is already unmapped.
func (r *Region) Unmap() error {
	if !r.mapped {
		return nil
	}
	r.cacheability = config.WB
	err := unix.Munmap(r.data)
	r.mapped = false
	r.data = nil
	if err != nil {
		return fmt.Errorf("%w: munmap: %v", pmbderr.ErrInternalInvariant, err)
	}
	return nil
}
