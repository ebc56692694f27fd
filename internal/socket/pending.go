package socket

import (
	"sort"
	"sync"

	"github.com/rdma-go/r2dma/internal/bufpool"
	"github.com/rdma-go/r2dma/internal/workpool"
)

type deferredSend struct {
	desc   *workpool.Descriptor
	buf    *bufpool.Slice
	length uint32
}

// pendingSends holds sends that lost the credit race in SubmitSend,
// keyed by their monotonic send index so the event loop can flush them
// in order once remote_completed advances.
type pendingSends struct {
	mu      sync.Mutex
	byIndex map[uint64]deferredSend
}

func (p *pendingSends) add(index uint64, d deferredSend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byIndex == nil {
		p.byIndex = make(map[uint64]deferredSend)
	}
	p.byIndex[index] = d
}

// flushable returns, in ascending index order, every pending index
// that check allows posting right now, removing them from the set.
func (p *pendingSends) flushable(check func(uint64) bool) []struct {
	index uint64
	send  deferredSend
} {
	p.mu.Lock()
	defer p.mu.Unlock()

	indices := make([]uint64, 0, len(p.byIndex))
	for idx := range p.byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var out []struct {
		index uint64
		send  deferredSend
	}
	for _, idx := range indices {
		if !check(idx) {
			break
		}
		out = append(out, struct {
			index uint64
			send  deferredSend
		}{idx, p.byIndex[idx]})
		delete(p.byIndex, idx)
	}
	return out
}

func (p *pendingSends) empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byIndex) == 0
}
