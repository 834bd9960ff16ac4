package wbuffer

import "fmt"

// Set is a device's collection of independent write buffers. A block's
// PBN routes to buffer (pbn / stride) mod count, so consecutive blocks
// can be spread across buffers to let their flushers make independent
// progress.
type Set struct {
	buffers []*Buffer
	flushers []*Flusher
	stride  uint64
}

// NewSet builds a Set of independently-flushed buffers.
func NewSet(buffers []*Buffer, flushers []*Flusher, stride uint64) (*Set, error) {
	if len(buffers) == 0 {
		return nil, fmt.Errorf("wbuffer: NewSet requires at least one buffer")
	}
	if stride == 0 {
		return nil, fmt.Errorf("wbuffer: stride must be >= 1")
	}
	return &Set{buffers: buffers, flushers: flushers, stride: stride}, nil
}

// BufferFor returns the buffer that owns pbn.
func (s *Set) BufferFor(pbn uint64) *Buffer {
	idx := (pbn / s.stride) % uint64(len(s.buffers))
	return s.buffers[idx]
}

// Count returns the number of buffers in the set.
func (s *Set) Count() int { return len(s.buffers) }

// At returns the buffer at index i.
func (s *Set) At(i int) *Buffer { return s.buffers[i] }

// Start launches every buffer's background flusher.
func (s *Set) Start() {
	for _, f := range s.flushers {
		f.Start()
	}
}

// FlushAll synchronously drains every buffer completely, the operation
// the barrier coordinator performs before issuing its global
// durability step.
func (s *Set) FlushAll(batch int) error {
	for _, b := range s.buffers {
		for b.NumDirty() > 0 {
			if _, err := b.Flush(batch); err != nil {
				return err
			}
		}
	}
	return nil
}

// StopAll signals every background flusher to stop; each flusher fully
// drains its buffer before its Stop call returns.
func (s *Set) StopAll() error {
	for _, f := range s.flushers {
		if err := f.Stop(); err != nil {
			return err
		}
	}
	return nil
}
