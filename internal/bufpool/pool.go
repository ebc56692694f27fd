// Package bufpool implements a page-aligned registered buffer pool:
// one aligned allocation registered with every device's protection
// domain, handed out as fixed-size owning slices from a free list.
package bufpool

import (
	"sync"
	"unsafe"

	"github.com/rdma-go/r2dma/internal/device"
	"github.com/rdma-go/r2dma/internal/ibv"
	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

const pageSize = 4096
const minBlockSize = 512

// Config sizes the pool.
type Config struct {
	BlockSize  int
	BlockCount int
}

func (c Config) alignedBlockSize() int {
	size := c.BlockSize
	if size < minBlockSize {
		size = minBlockSize
	}
	return roundUp(size, 64)
}

func roundUp(n, multiple int) int {
	if n%multiple == 0 {
		return n
	}
	return n + (multiple - n%multiple)
}

// Pool is one page-aligned region registered against every device in
// devices, sliced into Config.BlockCount fixed-size blocks.
type Pool struct {
	mu         sync.Mutex
	blockSize  int
	blockCount int
	raw        []byte // oversized backing allocation
	aligned    []byte // page-aligned view into raw
	mrs        []*ibv.MemoryRegion
	free       []int // stack of free block indices
}

// New allocates one aligned region of blockSize*blockCount bytes and
// registers it with every device's PD in order, so MR indices line up
// with device indices.
func New(cfg Config, devices []*device.Device) (*Pool, error) {
	blockSize := cfg.alignedBlockSize()
	blockCount := cfg.BlockCount
	if blockCount <= 0 {
		return nil, r2dmaerr.New(r2dmaerr.KindInvalidArgument, "bufpool.New: block_count must be > 0")
	}
	total := blockSize * blockCount

	raw := make([]byte, total+pageSize)
	aligned := alignedView(raw, total)

	p := &Pool{
		blockSize:  blockSize,
		blockCount: blockCount,
		raw:        raw,
		aligned:    aligned,
		mrs:        make([]*ibv.MemoryRegion, 0, len(devices)),
		free:       make([]int, blockCount),
	}
	for i := range p.free {
		p.free[i] = blockCount - 1 - i // pop from the tail, lowest index first
	}

	access := ibv.AccessLocalWrite | ibv.AccessRemoteWrite | ibv.AccessRemoteRead
	for _, dev := range devices {
		mr, err := dev.PD.RegisterMR(aligned, access)
		if err != nil {
			p.closeRegistered()
			return nil, err
		}
		p.mrs = append(p.mrs, mr)
	}
	return p, nil
}

func alignedView(raw []byte, length int) []byte {
	base := uintptr(unsafe.Pointer(&raw[0]))
	offset := (pageSize - base%pageSize) % pageSize
	return raw[offset : offset+length]
}

// BlockSize is the (alignment-rounded) size of every block the pool
// hands out.
func (p *Pool) BlockSize() int { return p.blockSize }

// Available reports the number of blocks currently free, for
// diagnostics and metrics.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Capacity is the total number of blocks the pool was created with.
func (p *Pool) Capacity() int { return p.blockCount }

// Allocate pops a free block index and returns an owning Slice, or
// fails with AllocateMemory when the pool is exhausted (scenario S1).
func (p *Pool) Allocate() (*Slice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, r2dmaerr.AllocateMemory
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	start := idx * p.blockSize
	return &Slice{
		pool:  p,
		index: idx,
		buf:   p.aligned[start : start+p.blockSize],
	}, nil
}

// release returns idx to the free list. Called at most once per
// allocation, by Slice.Release.
func (p *Pool) release(idx int) {
	p.mu.Lock()
	p.free = append(p.free, idx)
	p.mu.Unlock()
}

// Lkey returns the local key of the MR registered against devices[deviceIndex].
func (p *Pool) Lkey(deviceIndex int) uint32 {
	return p.mrs[deviceIndex].Lkey()
}

// Rkey returns the remote key of the MR registered against devices[deviceIndex].
func (p *Pool) Rkey(deviceIndex int) uint32 {
	return p.mrs[deviceIndex].Rkey()
}

// Close deregisters every MR. The aligned allocation is released by
// the garbage collector once the last Slice and the pool itself drop
// their references to raw: MRs are closed first, the allocation is
// left to outlive them trivially since Go has no explicit free.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeRegistered()
}

func (p *Pool) closeRegistered() error {
	var firstErr error
	for _, mr := range p.mrs {
		if err := mr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.mrs = nil
	return firstErr
}
