// Package gate implements the block-permission gate: the RW window
// that must bracket every store into a wrprot-protected region, in
// either PTE mode (per-page mprotect) or CR0 mode (a single global
// critical section standing in for flipping the processor-wide
// write-protect-enable bit).
package gate

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/pmbderr"
	"github.com/sarchlab/pmbd/region"
)

// Gate mediates every write into a wrprot-enabled region. It is safe for
// concurrent use: PTE windows may be open concurrently over disjoint
// ranges (mprotect calls do not contend), while CR0 windows are globally
// serialised by cr0mu because the write-protect-enable bit they model is
// a single processor-wide switch.
type Gate struct {
	backing region.Backing
	wrprot  bool
	mode    config.WPMode

	cr0mu sync.Mutex
}

// New creates a Gate over backing. If wrprot is false, Open/Close are
// no-ops and Activate leaves the region writable throughout, matching a
// device configured without write protection.
func New(backing region.Backing, wrprot bool, mode config.WPMode) *Gate {
	return &Gate{backing: backing, wrprot: wrprot, mode: mode}
}

// Activate puts the whole region into its resting state: read-only if
// wrprot is enabled, unchanged otherwise. Call once at device
// activation, before serving any request.
func (g *Gate) Activate() error {
	if !g.wrprot {
		return nil
	}
	return g.backing.Protect(0, g.backing.Len(), false)
}

// Deactivate restores the whole region to writable, undoing Activate.
// Call once at teardown, before the region is unmapped.
func (g *Gate) Deactivate() error {
	if !g.wrprot {
		return nil
	}
	return g.backing.Protect(0, g.backing.Len(), true)
}

// Window is a single open RW window. Close must be called exactly once;
// any store into the region outside an open window's lifetime is a
// fatal bug from the core's perspective.
type Window struct {
	gate         *Gate
	offset, size uint64
	closed       bool
}

// Open elevates [offset, offset+size) to read-write. offset and size
// must be page-aligned (block-sized ranges satisfy this by
// construction). Under CR0 mode the whole region is elevated instead,
// since the write-protect-enable bit the mode models is global; the
// [offset,size) bookkeeping is kept anyway so Close and Verify agree on
// which bytes the caller actually touched.
func (g *Gate) Open(offset, size uint64) (*Window, error) {
	if !g.wrprot {
		return &Window{gate: g, offset: offset, size: size}, nil
	}

	switch g.mode {
	case config.PTEMode:
		if err := g.backing.Protect(offset, size, true); err != nil {
			return nil, err
		}
	case config.CR0Mode:
		g.cr0mu.Lock()
		runtime.LockOSThread()
		if err := g.backing.Protect(0, g.backing.Len(), true); err != nil {
			runtime.UnlockOSThread()
			g.cr0mu.Unlock()
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown wpmode %v", pmbderr.ErrInternalInvariant, g.mode)
	}

	return &Window{gate: g, offset: offset, size: size}, nil
}

// Close restores read-only protection over the window's range (PTE
// mode) or the whole region (CR0 mode), and releases the CR0 global
// critical section if applicable.
func (w *Window) Close() error {
	if w.closed {
		return fmt.Errorf("%w: RW window closed twice", pmbderr.ErrInternalInvariant)
	}
	w.closed = true

	g := w.gate
	if !g.wrprot {
		return nil
	}

	switch g.mode {
	case config.PTEMode:
		return g.backing.Protect(w.offset, w.size, false)
	case config.CR0Mode:
		err := g.backing.Protect(0, g.backing.Len(), false)
		runtime.UnlockOSThread()
		g.cr0mu.Unlock()
		return err
	default:
		return fmt.Errorf("%w: unknown wpmode %v", pmbderr.ErrInternalInvariant, g.mode)
	}
}

// Verify reads back [offset, offset+len(expected)) from the region and
// compares it to expected, after the RW window that wrote it has
// closed. It reports ErrWriteVerificationFailed on mismatch, a
// condition callers are expected to treat as fatal for the process.
func Verify(backing region.Backing, offset uint64, expected []byte) error {
	got := backing.Bytes()[offset : offset+uint64(len(expected))]
	for i := range expected {
		if got[i] != expected[i] {
			return fmt.Errorf("%w: at region offset %d, byte %d: got 0x%02x want 0x%02x",
				pmbderr.ErrWriteVerificationFailed, offset, i, got[i], expected[i])
		}
	}
	return nil
}
