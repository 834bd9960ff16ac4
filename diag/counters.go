// Package diag implements an optional diagnostic surface: per-device
// request/sector/barrier counters, per-stage cycle accounting per
// processor and direction, an HTTP surface exposing both as JSON, and a
// human-readable state dump. None of it is part of the core
// read/write/flush contract; a device works identically with diag
// wired in or left out.
package diag

import (
	"sync/atomic"
	"time"
)

// Counters tracks total sectors and requests per direction,
// write-barrier and FUA counts, and the timestamp of the most recent
// access (which wbuffer.Flusher also reads to detect device idleness).
type Counters struct {
	numSectorsRead   uint64
	numSectorsWrite  uint64
	numRequestsRead  uint64
	numRequestsWrite uint64
	numWriteBarrier  uint64
	numWriteFUA      uint64
	lastAccessNS     int64
}

// NewCounters returns a zeroed Counters.
func NewCounters() *Counters { return &Counters{} }

// LastAccessPtr exposes the last-access timestamp pointer so a
// wbuffer.Flusher can read it directly without going through Counters'
// API on every idle check.
func (c *Counters) LastAccessPtr() *int64 { return &c.lastAccessNS }

// RecordRead accounts a completed read request of nSectors.
func (c *Counters) RecordRead(nSectors uint64) {
	atomic.AddUint64(&c.numSectorsRead, nSectors)
	atomic.AddUint64(&c.numRequestsRead, 1)
	c.touch()
}

// RecordWrite accounts a completed write request of nSectors.
func (c *Counters) RecordWrite(nSectors uint64) {
	atomic.AddUint64(&c.numSectorsWrite, nSectors)
	atomic.AddUint64(&c.numRequestsWrite, 1)
	c.touch()
}

// RecordBarrier accounts one FLUSH-honoured write barrier.
func (c *Counters) RecordBarrier() { atomic.AddUint64(&c.numWriteBarrier, 1) }

// RecordFUA accounts one FUA-honoured write.
func (c *Counters) RecordFUA() { atomic.AddUint64(&c.numWriteFUA, 1) }

func (c *Counters) touch() {
	atomic.StoreInt64(&c.lastAccessNS, time.Now().UnixNano())
}

// Snapshot is a point-in-time copy of Counters' fields, safe to encode
// as JSON or print.
type Snapshot struct {
	NumSectorsRead   uint64 `json:"num_sectors_read"`
	NumSectorsWrite  uint64 `json:"num_sectors_write"`
	NumRequestsRead  uint64 `json:"num_requests_read"`
	NumRequestsWrite uint64 `json:"num_requests_write"`
	NumWriteBarrier  uint64 `json:"num_write_barrier"`
	NumWriteFUA      uint64 `json:"num_write_fua"`
	LastAccessUnixNS int64  `json:"last_access_unix_ns"`
}

// Snapshot returns a consistent-enough point-in-time copy for reporting.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		NumSectorsRead:   atomic.LoadUint64(&c.numSectorsRead),
		NumSectorsWrite:  atomic.LoadUint64(&c.numSectorsWrite),
		NumRequestsRead:  atomic.LoadUint64(&c.numRequestsRead),
		NumRequestsWrite: atomic.LoadUint64(&c.numRequestsWrite),
		NumWriteBarrier:  atomic.LoadUint64(&c.numWriteBarrier),
		NumWriteFUA:      atomic.LoadUint64(&c.numWriteFUA),
		LastAccessUnixNS: atomic.LoadInt64(&c.lastAccessNS),
	}
}
