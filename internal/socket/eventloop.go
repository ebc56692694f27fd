package socket

import (
	"log/slog"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rdma-go/r2dma/internal/ibv"
	"github.com/rdma-go/r2dma/internal/workpool"
)

const completionBatchSize = 64

// EventLoop is the per-device worker: it drains
// completion events, routes them to sockets by cq_context, runs
// flow-control bookkeeping, and applies deferred operations posted
// through the channel's task queue. All per-socket bookkeeping
// mutation happens exclusively on this goroutine.
type EventLoop struct {
	channel *Channel
	logger  *slog.Logger
	sockets map[uintptr]*Socket
	done    chan struct{}
}

// NewEventLoop binds a loop to channel; Run should be started in its
// own goroutine, pinned to an OS thread for the life of the device.
func NewEventLoop(ch *Channel, logger *slog.Logger) *EventLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLoop{
		channel: ch,
		logger:  logger,
		sockets: make(map[uintptr]*Socket),
		done:    make(chan struct{}),
	}
}

// Run is the main loop. It owns an OS thread for its lifetime: one
// polling worker per device, not per socket.
func (l *EventLoop) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	events := make([]unix.EpollEvent, 16)
	for {
		n, err := l.channel.PollEvents(events, -1)
		if err != nil {
			l.logger.Warn("epoll_wait failed", "err", err)
			continue
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if l.channel.IsEventFd(ev) {
				l.channel.DrainEventFd()
				continue
			}
			l.drainCompChannel()
		}
		l.channel.DrainTasks(l.handleTask)

		if l.channel.Stopping() {
			return
		}
	}
}

// Wait blocks until Run has returned.
func (l *EventLoop) Wait() { <-l.done }

func (l *EventLoop) drainCompChannel() {
	for {
		cqCtx, ok, err := l.channel.PollSocket()
		if err != nil {
			l.logger.Warn("ibv_get_cq_event failed", "err", err)
			return
		}
		if !ok {
			return
		}
		sock, known := l.sockets[cqCtx]
		if !known {
			// A CQ event arrived before its AddSocket task was drained;
			// the socket is re-armed and drained on the next pass.
			continue
		}
		l.drainSocketCQ(sock)
	}
}

func (l *EventLoop) drainSocketCQ(s *Socket) {
	var wcs [completionBatchSize]ibv.WorkCompletion
	notifyErr, pollErr := ibv.DrainCQ(s.cq, wcs[:], func(wc ibv.WorkCompletion) {
		l.handleCompletion(s, wc)
	})
	if notifyErr != nil {
		l.logger.Warn("ibv_req_notify_cq failed", "socket", s.QPNum(), "err", notifyErr)
	}
	if pollErr != nil {
		l.logger.Warn("ibv_poll_cq failed", "socket", s.QPNum(), "err", pollErr)
		s.SetError()
		return
	}
	l.flushPending(s)
}

func (l *EventLoop) handleCompletion(s *Socket, wc ibv.WorkCompletion) {
	tag, payload := workpool.Decode(wc.WRID)
	switch tag {
	case workpool.WREmpty:
		return
	case workpool.WRImm:
		// our own ACK-immediate send completing; it owns no descriptor.
		if wc.Opcode == ibv.WCOpcodeSend {
			s.State.SendLocalComplete(1)
		}
		return
	case workpool.WRBox:
		desc := s.workPool.Lookup(uintptr(payload))
		switch wc.Opcode {
		case ibv.WCOpcodeSend:
			l.onSendCompletion(s, desc, wc)
		case ibv.WCOpcodeRecv:
			l.onRecvCompletion(s, desc, wc)
		}
	}
}

func (l *EventLoop) onSendCompletion(s *Socket, desc *workpool.Descriptor, wc ibv.WorkCompletion) {
	ok := wc.Status == ibv.WCStatusSuccess
	if desc.Responder != nil {
		desc.Responder(ok)
	}
	if desc.Buffer != nil {
		desc.Buffer.Release()
	}
	desc.Release()
	s.State.SendLocalComplete(1)
	if !ok {
		s.SetError()
	}
}

func (l *EventLoop) onRecvCompletion(s *Socket, desc *workpool.Descriptor, wc ibv.WorkCompletion) {
	s.State.RecvComplete()
	if wc.Status != ibv.WCStatusSuccess {
		desc.Buffer.Release()
		desc.Release()
		s.SetError()
		return
	}

	if wc.HasImmData {
		s.State.SendRemoteComplete(uint64(wc.ImmData))
	}
	if desc.Responder != nil {
		desc.Responder(true)
	}
	if s.recvHandler != nil && wc.ByteLen > 0 {
		data := make([]byte, wc.ByteLen)
		copy(data, desc.Buffer.Bytes()[:wc.ByteLen])
		s.recvHandler(data, wc.ImmData, wc.HasImmData)
	}

	if n := s.remoteNotification.Add(1); n >= s.cfg.NotificationBatch {
		count := s.remoteNotification.Swap(0)
		if err := s.sendAckImmediate(count); err != nil {
			l.logger.Warn("ack-immediate send failed", "socket", s.QPNum(), "err", err)
			s.SetError()
		}
	}

	if err := s.repostRecv(desc); err != nil {
		l.logger.Warn("re-post recv failed", "socket", s.QPNum(), "err", err)
		s.SetError()
	}
}

func (l *EventLoop) flushPending(s *Socket) {
	items := s.pending.flushable(s.State.CheckSendIndex)
	for _, it := range items {
		if err := s.postSendDescriptor(it.send.desc, it.send.buf, it.send.length); err != nil {
			l.logger.Warn("deferred send post failed", "socket", s.QPNum(), "err", err)
		}
	}
}

func (l *EventLoop) handleTask(t Task) {
	switch t.Kind {
	case TaskAddSocket:
		key := uintptr(unsafe.Pointer(t.Socket))
		l.sockets[key] = t.Socket
		l.drainSocketCQ(t.Socket)
	case TaskAsyncSendWork:
		l.flushPending(t.Socket)
	case TaskWakeUpSocket:
		if t.Socket.State.ReadyToRemove() {
			key := uintptr(unsafe.Pointer(t.Socket))
			delete(l.sockets, key)
			t.Socket.close()
		}
	}
}
