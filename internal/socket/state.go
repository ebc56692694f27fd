// Package socket implements the logical RDMA connection: per-socket
// flow-control state (this file), the per-device epoll/eventfd
// channel, the event loop that drains completions, and the Socket
// type that ties them together.
package socket

import (
	"math"
	"sync/atomic"
)

const noFinalIndex = math.MaxUint64

// errorBit occupies the low bit of the packed state word; the
// remaining 63 bits hold the monotonic send index. Every write is a
// compare-and-swap, so submitting goroutines and the event loop may
// update it concurrently.
const errorBit = 1

// State is the atomic bit-packed socket state: send
// credit consumed, an error flag, and the bookkeeping atomics needed
// to decide when a queue pair may be torn down. Every method is safe
// under concurrent callers.
type State struct {
	packed          atomic.Uint64 // bit0 = error; bits[1:64] = next send index
	remoteCompleted atomic.Uint64 // advanced by received ACK-immediate values
	localCompleted  atomic.Uint64 // advanced by the event loop's own send completions
	recvOutstanding atomic.Int64  // posted receives not yet completed
	finalSendIndex  atomic.Uint64 // latched by SetError; noFinalIndex until then
	maxSendWR       uint64        // the flow-control window, fixed at construction
}

// NewState constructs a State with the given send window (the
// queue pair's max_wr), initially error-free.
func NewState(maxSendWR uint32) *State {
	s := &State{maxSendWR: uint64(maxSendWR)}
	s.finalSendIndex.Store(noFinalIndex)
	return s
}

// ApplySend increments the monotonic send index and returns the
// previous value, the index to use for this send's wr_id-adjacent
// bookkeeping. ok is false if the error bit is already set.
func (s *State) ApplySend() (index uint64, ok bool) {
	for {
		old := s.packed.Load()
		if old&errorBit != 0 {
			return 0, false
		}
		cur := old >> 1
		next := ((cur + 1) << 1) | (old & errorBit)
		if s.packed.CompareAndSwap(old, next) {
			return cur, true
		}
	}
}

// CheckSendIndex reports whether index may be posted synchronously
// right now: true iff index < remote_completed + max_send.
func (s *State) CheckSendIndex(index uint64) bool {
	return index < s.remoteCompleted.Load()+s.maxSendWR
}

// ApplyRecv records one more outstanding posted receive.
func (s *State) ApplyRecv() { s.recvOutstanding.Add(1) }

// RecvComplete records that a previously posted receive has completed
// (and, per the event-loop contract, been re-posted or abandoned).
func (s *State) RecvComplete() { s.recvOutstanding.Add(-1) }

// SendLocalComplete advances the local-completion cursor by n, driven
// by the socket's own send completions.
func (s *State) SendLocalComplete(n uint64) { s.localCompleted.Add(n) }

// SendRemoteComplete advances the remote-completion cursor by n,
// driven by received ACK-immediate values.
func (s *State) SendRemoteComplete(n uint64) { s.remoteCompleted.Add(n) }

// SetError sets the error bit and latches the current send index as
// the final one the reaper must wait to drain. Idempotent.
func (s *State) SetError() {
	for {
		old := s.packed.Load()
		if old&errorBit != 0 {
			return
		}
		next := old | errorBit
		if s.packed.CompareAndSwap(old, next) {
			s.finalSendIndex.CompareAndSwap(noFinalIndex, old>>1)
			return
		}
	}
}

// ErrorSet reports whether SetError has been called.
func (s *State) ErrorSet() bool { return s.packed.Load()&errorBit != 0 }

// ReadyToRemove reports whether error is set and every outstanding
// index has drained: the socket's own send completions have caught up
// to the latched final index, and no posted receive is still
// outstanding.
func (s *State) ReadyToRemove() bool {
	if !s.ErrorSet() {
		return false
	}
	final := s.finalSendIndex.Load()
	if final == noFinalIndex {
		return false
	}
	return s.localCompleted.Load() >= final && s.recvOutstanding.Load() <= 0
}
