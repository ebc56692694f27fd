// Package workpool preallocates the work descriptors posted against
// queue pairs and implements the wr_id tagging scheme used to
// recover a descriptor from a completion in O(1).
package workpool

import (
	"sync"
	"unsafe"

	"github.com/rdma-go/r2dma/internal/bufpool"
	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

// Kind distinguishes what a Descriptor represents on the wire.
type Kind int

const (
	KindSend Kind = iota
	KindRecv
	KindRead
)

// Responder is invoked by the event loop when a descriptor's posted
// work request completes, reporting whether the completion succeeded.
type Responder func(ok bool)

// Descriptor is a preallocated slot: kind, an optional pool-backed
// buffer, an optional non-zero immediate, and an optional responder.
type Descriptor struct {
	Kind      Kind
	Buffer    *bufpool.Slice
	Immediate uint32
	HasImm    bool
	Responder Responder

	pool *Pool
	slot int
}

// WRID returns the tagged wr_id identifying this descriptor's slab
// slot, suitable for the verbs SendWorkRequest/RecvWorkRequest WRID
// field.
func (d *Descriptor) WRID() uint64 {
	return EncodeBox(uintptr(unsafe.Pointer(d)))
}

// Release returns the descriptor's slot to the pool's free stack and
// clears its buffer/responder references.
func (d *Descriptor) Release() {
	d.pool.release(d)
}

// Pool is a fixed-size slab of Descriptors with a mutex-protected free
// stack, sized by the configured work pool size.
type Pool struct {
	mu   sync.Mutex
	slab []Descriptor
	free []int
}

// New preallocates size descriptors.
func New(size int) (*Pool, error) {
	if size <= 0 {
		return nil, r2dmaerr.New(r2dmaerr.KindInvalidArgument, "workpool.New: size must be > 0")
	}
	p := &Pool{
		slab: make([]Descriptor, size),
		free: make([]int, size),
	}
	for i := range p.slab {
		p.slab[i].pool = p
		p.slab[i].slot = i
		p.free[i] = size - 1 - i
	}
	return p, nil
}

// Allocate pops a free slot and returns it zeroed of its previous
// buffer/responder, filled with the requested kind.
func (p *Pool) Allocate(kind Kind) (*Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, r2dmaerr.WorkPoolExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	d := &p.slab[idx]
	d.Kind = kind
	d.Buffer = nil
	d.Immediate = 0
	d.HasImm = false
	d.Responder = nil
	return d, nil
}

// Lookup recovers the *Descriptor a WRBox-tagged wr_id points to. The
// caller must only invoke this with a payload produced by
// Descriptor.WRID from this same pool.
func (p *Pool) Lookup(addr uintptr) *Descriptor {
	return (*Descriptor)(unsafe.Pointer(addr))
}

func (p *Pool) release(d *Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d.Buffer = nil
	d.Responder = nil
	p.free = append(p.free, d.slot)
}

// Len reports the slab's fixed capacity.
func (p *Pool) Len() int { return len(p.slab) }

// Capacity is an alias for Len, satisfying internal/metrics.PoolStats.
func (p *Pool) Capacity() int { return p.Len() }

// Available reports the current free-stack depth.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
