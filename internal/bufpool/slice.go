package bufpool

import "sync/atomic"

// Slice is an owning handle to one block of a Pool. Exactly one
// Release call returns its index to the free list; a double release
// is guarded by an atomic latch so it is impossible by construction.
type Slice struct {
	pool     *Pool
	index    int
	buf      []byte
	released atomic.Bool
}

// Bytes exposes the underlying block for reads and writes.
func (s *Slice) Bytes() []byte { return s.buf }

// Index returns the block index within the pool, used to address the
// corresponding lkey/rkey by device.
func (s *Slice) Index() int { return s.index }

// Lkey returns the local key for deviceIndex's MR over this slice's block.
func (s *Slice) Lkey(deviceIndex int) uint32 { return s.pool.Lkey(deviceIndex) }

// Rkey returns the remote key for deviceIndex's MR over this slice's block.
func (s *Slice) Rkey(deviceIndex int) uint32 { return s.pool.Rkey(deviceIndex) }

// Addr returns the address of the slice's first byte, used to build
// SGEs for posted work requests.
func (s *Slice) Addr() uint64 {
	if len(s.buf) == 0 {
		return 0
	}
	return addrOf(s.buf)
}

// Release returns the block to the pool's free list. Safe to call
// more than once; only the first call has effect.
func (s *Slice) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.pool.release(s.index)
	}
}
