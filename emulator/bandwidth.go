package emulator

import "time"

// batch tracks one direction's in-flight bandwidth-shaping window.
type batch struct {
	start   time.Time
	end     time.Time
	sectors uint64
	open    bool
}

// Bandwidth accounts nSectors against dir's batch, guarded by the
// device-level batch lock, and closes (and shapes) the batch when its
// boundaries are crossed. Sleeping is never performed while batchLock
// is held: closeBatch busy-waits only.
func (e *Emulator) Bandwidth(dir Direction, nSectors uint64) {
	p := e.params(dir)
	if p.BWMBps == 0 {
		return
	}

	e.batchLock.Lock()
	defer e.batchLock.Unlock()

	b := e.batchFor(dir)
	now := time.Now()

	if b.open && now.Sub(b.end) > MaxInterval {
		e.closeBatch(dir, p)
		b = e.batchFor(dir)
	}

	if !b.open {
		b.start = now
		b.open = true
	}
	b.sectors += nSectors
	b.end = now
	e.setBatch(dir, b)

	if b.end.Sub(b.start) >= MaxDuration || b.sectors >= MaxSectors {
		e.closeBatch(dir, p)
	}
}

func (e *Emulator) batchFor(dir Direction) batch {
	if dir == Read {
		return e.rdBatch
	}
	return e.wrBatch
}

func (e *Emulator) setBatch(dir Direction, b batch) {
	if dir == Read {
		e.rdBatch = b
	} else {
		e.wrBatch = b
	}
}

// closeBatch computes the emulated transfer time for the accumulated
// batch and busy-waits any deficit, while still holding batchLock, then
// zeroes the batch. Called with batchLock already held.
func (e *Emulator) closeBatch(dir Direction, p Params) {
	b := e.batchFor(dir)
	defer e.setBatch(dir, batch{})

	if !b.open || b.sectors < MinSectors {
		return
	}

	bytesPerSec := p.BWMBps * 1_000_000
	if bytesPerSec == 0 {
		return
	}

	transferNS := float64(b.sectors*e.sectorSize) / float64(bytesPerSec) * 1e9
	transfer := time.Duration(transferNS)
	elapsed := b.end.Sub(b.start)

	deficit := transfer - elapsed
	busyWait(deficit)
}
