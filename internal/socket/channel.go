package socket

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/rdma-go/r2dma/internal/ibv"
	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

// TaskKind enumerates the task-channel messages.
type TaskKind int

const (
	TaskAddSocket TaskKind = iota
	TaskAsyncSendWork
	TaskWakeUpSocket
)

// Task is one entry of the multi-producer, single-consumer queue
// carried alongside the channel's epoll set.
type Task struct {
	Kind   TaskKind
	Socket *Socket
	QPNum  uint32
	Index  uint64
	WorkID uint64
}

const (
	epollEventFd = uint64(1)
	epollCompFd  = uint64(2)
)

// Channel owns one epoll set multiplexing a verbs completion channel's
// fd and an eventfd, plus the task queue drained by the owning event
// loop.
type Channel struct {
	epfd        int
	eventFd     int
	compChannel *ibv.CompChannel
	tasks       chan Task
	stopping    atomic.Bool
}

// NewChannel creates the epoll set and eventfd, and registers both the
// eventfd and the completion channel's fd for readability.
func NewChannel(compChannel *ibv.CompChannel, taskQueueDepth int) (*Channel, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindChannelSend, "epoll_create1", err)
	}
	eventFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, r2dmaerr.Wrap(r2dmaerr.KindChannelSend, "eventfd", err)
	}

	c := &Channel{epfd: epfd, eventFd: eventFd, compChannel: compChannel, tasks: make(chan Task, taskQueueDepth)}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, eventFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(epollEventFd)}); err != nil {
		c.closeFds()
		return nil, r2dmaerr.Wrap(r2dmaerr.KindChannelSend, "epoll_ctl(eventfd)", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, compChannel.Fd(), &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(epollCompFd)}); err != nil {
		c.closeFds()
		return nil, r2dmaerr.Wrap(r2dmaerr.KindChannelSend, "epoll_ctl(comp_channel)", err)
	}
	return c, nil
}

func (c *Channel) closeFds() {
	unix.Close(c.eventFd)
	unix.Close(c.epfd)
}

// WakeUp writes to the eventfd, rousing a blocked PollEvents call.
func (c *Channel) WakeUp() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(c.eventFd, buf[:])
}

// drainEventFd clears the eventfd counter after it signals readable.
func (c *Channel) drainEventFd() {
	var buf [8]byte
	_, _ = unix.Read(c.eventFd, buf[:])
}

// PollEvents blocks (with timeoutMs, -1 for indefinite) until any
// registered fd is readable.
func (c *Channel) PollEvents(events []unix.EpollEvent, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(c.epfd, events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, r2dmaerr.Wrap(r2dmaerr.KindChannelSend, "epoll_wait", err)
	}
	return n, nil
}

// IsEventFd reports whether ev identifies the channel's eventfd, in
// which case the caller should call DrainEventFd and continue.
func (c *Channel) IsEventFd(ev unix.EpollEvent) bool { return uint64(ev.Fd) == epollEventFd }

// DrainEventFd clears the eventfd counter; exported so the event loop
// can call it without reaching into channel internals.
func (c *Channel) DrainEventFd() { c.drainEventFd() }

// PollSocket drains one completion event from the verbs completion
// channel, returning the cq_context the firing CQ was created with
// (the owning socket's observer token).
func (c *Channel) PollSocket() (cqContext uintptr, ok bool, err error) {
	return c.compChannel.GetCQEvent()
}

// Enqueue posts a task and wakes the event loop.
func (c *Channel) Enqueue(t Task) {
	select {
	case c.tasks <- t:
	default:
		// Task queue depth is sized generously at construction; a full
		// queue means the event loop is stalled, not that the task is
		// optional, so fall back to a blocking send.
		c.tasks <- t
	}
	c.WakeUp()
}

// DrainTasks invokes fn for every task currently queued, without
// blocking once the queue empties.
func (c *Channel) DrainTasks(fn func(Task)) {
	for {
		select {
		case t := <-c.tasks:
			fn(t)
		default:
			return
		}
	}
}

// Stop sets the stopping flag and wakes the loop so it can observe it.
func (c *Channel) Stop() {
	c.stopping.Store(true)
	c.WakeUp()
}

// Stopping reports whether Stop has been called.
func (c *Channel) Stopping() bool { return c.stopping.Load() }

// Close releases the epoll instance, eventfd, and completion channel.
func (c *Channel) Close() error {
	c.closeFds()
	return c.compChannel.Close()
}
