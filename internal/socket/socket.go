package socket

import (
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/rdma-go/r2dma/internal/bufpool"
	"github.com/rdma-go/r2dma/internal/device"
	"github.com/rdma-go/r2dma/internal/ibv"
	"github.com/rdma-go/r2dma/internal/r2dmaerr"
	"github.com/rdma-go/r2dma/internal/workpool"
)

// Config sizes one socket's queue pair and flow control.
type Config struct {
	MaxCQE            int
	MaxSendWR         uint32
	MaxRecvWR         uint32
	MaxSGE            uint32
	MaxInlineData     uint32
	NotificationBatch uint32 // default 8
	InitialRecvCount  int    // default 18
}

func (c Config) withDefaults() Config {
	if c.NotificationBatch == 0 {
		c.NotificationBatch = 8
	}
	if c.InitialRecvCount == 0 {
		c.InitialRecvCount = 18
	}
	if c.MaxSGE == 0 {
		c.MaxSGE = 1
	}
	return c
}

// Socket is a reliable message channel over one queue pair: one QP,
// one CQ, flow-control state, and a task channel to its event loop.
type Socket struct {
	Device      *device.Device
	deviceIndex int

	qp    *ibv.QueuePair
	cq    *ibv.CompQueue
	State *State

	bufPool  *bufpool.Pool
	workPool *workpool.Pool
	channel  *Channel
	logger   *slog.Logger

	cfg Config

	remoteNotification atomic.Uint32
	pending             pendingSends
	recvHandler         RecvHandler

	closed atomic.Bool
}

// RecvHandler is invoked by the owning event loop for every
// successful receive completion, with the bytes actually received
// (not the full backing buffer) and any immediate data carried with
// it. data is a copy of the received bytes, so the handler may retain
// it after the backing buffer is reposted.
type RecvHandler func(data []byte, immediate uint32, hasImm bool)

// SetRecvHandler installs the callback the event loop delivers
// receive completions to. It must be set before Ready is called, so
// no completion is ever dropped by an unset handler.
func (s *Socket) SetRecvHandler(fn RecvHandler) { s.recvHandler = fn }

// New creates the socket's CQ (with cq_context set to the socket's own
// pinned address) and RC queue pair, moves the QP to INIT, posts the
// initial batch of receive buffers, and enrolls the socket with its
// event loop via an AddSocket task.
func New(dev *device.Device, deviceIndex int, bufPool *bufpool.Pool, workPool *workpool.Pool, ch *Channel, cfg Config, logger *slog.Logger) (*Socket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	s := &Socket{
		Device:      dev,
		deviceIndex: deviceIndex,
		bufPool:     bufPool,
		workPool:    workPool,
		channel:     ch,
		logger:      logger,
		cfg:         cfg,
		State:       NewState(cfg.MaxSendWR),
	}

	cq, err := dev.Ctx.CreateCQ(cfg.MaxCQE, ch.compChannel, uintptr(unsafe.Pointer(s)), 0)
	if err != nil {
		return nil, err
	}
	s.cq = cq

	qp, err := dev.PD.CreateQP(cq, cq, ibv.QPCaps{
		MaxSendWR:     cfg.MaxSendWR,
		MaxRecvWR:     cfg.MaxRecvWR,
		MaxSendSGE:    cfg.MaxSGE,
		MaxRecvSGE:    cfg.MaxSGE,
		MaxInlineData: cfg.MaxInlineData,
	})
	if err != nil {
		cq.Close()
		return nil, err
	}
	s.qp = qp

	access := ibv.AccessLocalWrite | ibv.AccessRemoteWrite | ibv.AccessRemoteRead
	port := dev.Ports[0]
	if err := qp.Init(uint8(port.PortNum), 0, access); err != nil {
		qp.Close()
		cq.Close()
		return nil, err
	}

	for i := 0; i < cfg.InitialRecvCount; i++ {
		if err := s.postRecv(); err != nil {
			qp.Close()
			cq.Close()
			return nil, err
		}
	}

	ch.Enqueue(Task{Kind: TaskAddSocket, Socket: s})
	return s, nil
}

// LocalEndpoint returns the tuple a peer needs to move its QP from
// INIT to RTR.
func (s *Socket) LocalEndpoint(gid ibv.Gid, gidIndex int, portNum uint8) ibv.RemoteEndpoint {
	port := s.Device.Ports[0]
	return ibv.RemoteEndpoint{
		QPNum:    s.qp.QPNum(),
		LID:      port.Attrs.LID,
		GID:      gid,
		GidIndex: gidIndex,
		PortNum:  portNum,
	}
}

// Ready drives the QP through RTR then RTS against remote.
func (s *Socket) Ready(remote ibv.RemoteEndpoint) error {
	mtu := s.Device.Ports[0].Attrs.ActiveMTU
	if err := s.qp.ReadyToRecv(remote, mtu); err != nil {
		return err
	}
	return s.qp.ReadyToSend()
}

// SubmitSend reserves send credit and either posts immediately or
// defers the post to the event loop.
func (s *Socket) SubmitSend(buf *bufpool.Slice, length uint32, immediate uint32, hasImm bool, responder workpool.Responder) error {
	desc, err := s.workPool.Allocate(workpool.KindSend)
	if err != nil {
		return err
	}
	desc.Buffer = buf
	desc.Immediate = immediate
	desc.HasImm = hasImm
	desc.Responder = responder

	index, ok := s.State.ApplySend()
	if !ok {
		desc.Release()
		return r2dmaerr.SocketError
	}

	if s.State.CheckSendIndex(index) {
		return s.postSendDescriptor(desc, buf, length)
	}

	s.channel.Enqueue(Task{Kind: TaskAsyncSendWork, Socket: s, QPNum: s.qp.QPNum(), Index: index, WorkID: desc.WRID()})
	s.pending.add(index, deferredSend{desc: desc, buf: buf, length: length})
	return nil
}

func (s *Socket) postSendDescriptor(desc *workpool.Descriptor, buf *bufpool.Slice, length uint32) error {
	wr := ibv.SendWorkRequest{
		WRID:      desc.WRID(),
		Kind:      ibv.WRSend,
		SignalAll: true,
	}
	if buf != nil {
		wr.SGL = []ibv.SGE{{Addr: buf.Addr(), Length: length, Lkey: buf.Lkey(s.deviceIndex)}}
	}
	if desc.HasImm {
		wr.Kind = ibv.WRSendWithImm
		wr.Immediate = desc.Immediate
	}
	if err := s.qp.PostSend(wr); err != nil {
		desc.Release()
		s.SetError()
		return err
	}
	return nil
}

// sendAckImmediate posts a bare ACK-immediate carrying the receive
// notification batch count. It owns no work descriptor: its wr_id is
// EncodeImm, not EncodeBox.
func (s *Socket) sendAckImmediate(count uint32) error {
	wr := ibv.SendWorkRequest{
		WRID:      workpool.EncodeImm(count),
		Kind:      ibv.WRSendWithImm,
		Immediate: count,
		SignalAll: true,
	}
	return s.qp.PostSend(wr)
}

// postRecv allocates a buffer-backed receive descriptor and posts it.
// The same descriptor is reused across the life of the socket: a
// receive completion carries the buffer originally posted.
func (s *Socket) postRecv() error {
	desc, err := s.workPool.Allocate(workpool.KindRecv)
	if err != nil {
		return err
	}
	buf, err := s.bufPool.Allocate()
	if err != nil {
		desc.Release()
		return err
	}
	desc.Buffer = buf

	wr := ibv.RecvWorkRequest{
		WRID: desc.WRID(),
		SGL:  []ibv.SGE{{Addr: buf.Addr(), Length: uint32(len(buf.Bytes())), Lkey: buf.Lkey(s.deviceIndex)}},
	}
	if err := s.qp.PostRecv(wr); err != nil {
		buf.Release()
		desc.Release()
		return err
	}
	s.State.ApplyRecv()
	return nil
}

// repostRecv re-posts an already-allocated receive descriptor's
// buffer, reusing the same slab slot and wr_id.
func (s *Socket) repostRecv(desc *workpool.Descriptor) error {
	wr := ibv.RecvWorkRequest{
		WRID: desc.WRID(),
		SGL:  []ibv.SGE{{Addr: desc.Buffer.Addr(), Length: uint32(len(desc.Buffer.Bytes())), Lkey: desc.Buffer.Lkey(s.deviceIndex)}},
	}
	if err := s.qp.PostRecv(wr); err != nil {
		return err
	}
	s.State.ApplyRecv()
	return nil
}

// SetError forces the QP into the ERR state and wakes the event loop
// so reaping can proceed. Safe to call concurrently with sends.
func (s *Socket) SetError() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.State.SetError()
	if err := s.qp.SetError(); err != nil {
		s.logger.Warn("ibv_modify_qp(ERR) failed", "err", err)
	}
	s.channel.Enqueue(Task{Kind: TaskWakeUpSocket, Socket: s, QPNum: s.qp.QPNum()})
}

// close tears the QP and CQ down, in that order. Called only by
// the owning event loop once ReadyToRemove is true.
func (s *Socket) close() {
	if err := s.qp.Close(); err != nil {
		s.logger.Warn("ibv_destroy_qp failed", "err", err)
	}
	if err := s.cq.Close(); err != nil {
		s.logger.Warn("ibv_destroy_cq failed", "err", err)
	}
}

// QPNum is the queue pair number used to correlate deferred tasks.
func (s *Socket) QPNum() uint32 { return s.qp.QPNum() }

// CQ exposes the socket's completion queue to the event loop.
func (s *Socket) CQ() *ibv.CompQueue { return s.cq }
