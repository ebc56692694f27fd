//go:build linux && cgo

package ibv

/*
#cgo LDFLAGS: -libverbs
#include <stdlib.h>
#include <string.h>
#include <infiniband/verbs.h>

static struct ibv_send_wr *r2dma_alloc_send_wr(int n) {
	return calloc((size_t)n, sizeof(struct ibv_send_wr));
}
static struct ibv_recv_wr *r2dma_alloc_recv_wr(int n) {
	return calloc((size_t)n, sizeof(struct ibv_recv_wr));
}
static struct ibv_sge *r2dma_alloc_sge(int n) {
	return calloc((size_t)n, sizeof(struct ibv_sge));
}
static struct ibv_wc *r2dma_alloc_wc(int n) {
	return calloc((size_t)n, sizeof(struct ibv_wc));
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

// DeviceList is the result of ibv_get_device_list, freed exactly once.
type DeviceList struct {
	mu    sync.Mutex
	raw   **C.struct_ibv_device
	n     int
	freed bool
}

// GetDeviceList enumerates every verbs device visible to the process.
func GetDeviceList() (*DeviceList, error) {
	var n C.int
	raw, errno := C.ibv_get_device_list(&n)
	if raw == nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindDeviceEnumeration, "ibv_get_device_list", errno)
	}
	return &DeviceList{raw: raw, n: int(n)}, nil
}

// Len returns the number of devices in the list.
func (l *DeviceList) Len() int { return l.n }

// Name returns the i-th device's name.
func (l *DeviceList) Name(i int) string {
	dev := deviceAt(l.raw, i)
	return C.GoString(C.ibv_get_device_name(dev))
}

// Open opens the i-th device in the list into a Context.
func (l *DeviceList) Open(i int) (*Context, error) {
	dev := deviceAt(l.raw, i)
	ctx, errno := C.ibv_open_device(dev)
	if ctx == nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindOpenDevice, "ibv_open_device", errno)
	}
	name := C.GoString(C.ibv_get_device_name(dev))
	c := &Context{raw: ctx, name: name}
	armLeakFinalizer(c, "Context", &c.closed)
	return c, nil
}

// Free releases the device list. Safe to call more than once.
func (l *DeviceList) Free() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.freed {
		return
	}
	C.ibv_free_device_list(l.raw)
	l.freed = true
}

func deviceAt(list **C.struct_ibv_device, i int) *C.struct_ibv_device {
	base := uintptr(unsafe.Pointer(list))
	elem := base + uintptr(i)*unsafe.Sizeof(base)
	return *(**C.struct_ibv_device)(unsafe.Pointer(elem))
}

// Context wraps struct ibv_context. Never cloned; shared ownership is
// through the enclosing Device.
type Context struct {
	mu   sync.Mutex
	raw  *C.struct_ibv_context
	name string
	closed bool
}

func (c *Context) Name() string { return c.name }

// Close invokes ibv_close_device exactly once and returns a nonzero
// return code as an error; callers log it (destroy failures are
// non-recoverable and non-fatal).
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	disarmLeakFinalizer(c)
	if rc := C.ibv_close_device(c.raw); rc != 0 {
		return fmt.Errorf("ibv_close_device: rc=%d", int(rc))
	}
	return nil
}

// AsyncFd returns the async event fd of the context.
func (c *Context) AsyncFd() int {
	return int(c.raw.async_fd)
}

func (c *Context) QueryDevice() (DeviceAttrs, error) {
	var attr C.struct_ibv_device_attr
	if rc := C.ibv_query_device(c.raw, &attr); rc != 0 {
		return DeviceAttrs{}, r2dmaerr.Wrap(r2dmaerr.KindQueryDevice, "ibv_query_device", fmt.Errorf("rc=%d", int(rc)))
	}
	return DeviceAttrs{
		FwVersion:     C.GoString(&attr.fw_ver[0]),
		MaxQP:         int(attr.max_qp),
		MaxQPWr:       int(attr.max_qp_wr),
		MaxCQ:         int(attr.max_cq),
		MaxCQE:        int(attr.max_cqe),
		MaxMR:         int(attr.max_mr),
		MaxMRSize:     uint64(attr.max_mr_size),
		MaxPD:         int(attr.max_pd),
		MaxSGE:        int(attr.max_sge),
		PhysPortCount: int(attr.phys_port_cnt),
		VendorID:      uint32(attr.vendor_id),
		VendorPartID:  uint32(attr.vendor_part_id),
		HWVer:         uint32(attr.hw_ver),
	}, nil
}

func (c *Context) QueryPort(portNum uint8) (PortAttrs, error) {
	var attr C.struct_ibv_port_attr
	if rc := C.ibv_query_port(c.raw, C.uint8_t(portNum), &attr); rc != 0 {
		return PortAttrs{}, r2dmaerr.Wrap(r2dmaerr.KindQueryPort, "ibv_query_port", fmt.Errorf("rc=%d", int(rc)))
	}
	return PortAttrs{
		State:       PortState(attr.state),
		PhysState:   int(attr.phys_state),
		LID:         uint16(attr.lid),
		LMC:         uint8(attr.lmc),
		MaxMTU:      int(attr.max_mtu),
		ActiveMTU:   int(attr.active_mtu),
		GidTblLen:   int(attr.gid_tbl_len),
		ActiveSpeed: int(attr.active_speed),
		ActiveWidth: int(attr.active_width),
		LinkLayer:   linkLayerName(attr.link_layer),
	}, nil
}

func linkLayerName(v C.uint8_t) string {
	switch v {
	case C.IBV_LINK_LAYER_INFINIBAND:
		return "IB"
	case C.IBV_LINK_LAYER_ETHERNET:
		return "Ethernet"
	default:
		return "Unspecified"
	}
}

func (c *Context) QueryGid(portNum uint8, index int) (Gid, error) {
	var raw C.union_ibv_gid
	if rc := C.ibv_query_gid(c.raw, C.uint8_t(portNum), C.int(index), &raw); rc != 0 {
		return Gid{}, r2dmaerr.Wrap(r2dmaerr.KindQueryGid, "ibv_query_gid", fmt.Errorf("rc=%d", int(rc)))
	}
	var gid Gid
	raw16 := (*[16]byte)(unsafe.Pointer(&raw))
	copy(gid[:], raw16[:])
	return gid, nil
}

// AllocPD allocates a protection domain against this context.
func (c *Context) AllocPD() (*ProtectionDomain, error) {
	pd, errno := C.ibv_alloc_pd(c.raw)
	if pd == nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindAllocatePD, "ibv_alloc_pd", errno)
	}
	p := &ProtectionDomain{raw: pd}
	armLeakFinalizer(p, "ProtectionDomain", &p.closed)
	return p, nil
}

// CreateCompChannel creates a completion channel bound to this
// context and sets it non-blocking.
func (c *Context) CreateCompChannel() (*CompChannel, error) {
	ch, errno := C.ibv_create_comp_channel(c.raw)
	if ch == nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindCreateCompChannel, "ibv_create_comp_channel", errno)
	}
	fd := int(ch.fd)
	if err := setNonBlocking(fd); err != nil {
		C.ibv_destroy_comp_channel(ch)
		return nil, r2dmaerr.Wrap(r2dmaerr.KindSetNonBlock, "fcntl(O_NONBLOCK)", err)
	}
	cch := &CompChannel{raw: ch, fd: fd}
	armLeakFinalizer(cch, "CompChannel", &cch.closed)
	return cch, nil
}

// CreateCQ creates a completion queue, optionally bound to a
// completion channel, with cqContext carrying the owning socket's
// non-owning observer token (stored as a uintptr, resolved back to a
// *Socket by the caller — see socket.Channel).
func (c *Context) CreateCQ(maxCQE int, channel *CompChannel, cqContext uintptr, compVector int) (*CompQueue, error) {
	var rawChannel *C.struct_ibv_comp_channel
	if channel != nil {
		rawChannel = channel.raw
	}
	cq, errno := C.ibv_create_cq(c.raw, C.int(maxCQE), unsafe.Pointer(cqContext), rawChannel, C.int(compVector))
	if cq == nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindCreateCQ, "ibv_create_cq", errno)
	}
	q := &CompQueue{raw: cq, cqContext: cqContext}
	armLeakFinalizer(q, "CompQueue", &q.closed)
	return q, nil
}

// RegisterMR registers buf against this protection domain.
func (pd *ProtectionDomain) RegisterMR(buf []byte, access AccessFlags) (*MemoryRegion, error) {
	if len(buf) == 0 {
		return nil, r2dmaerr.New(r2dmaerr.KindInvalidArgument, "ibv_reg_mr: empty buffer")
	}
	addr := unsafe.Pointer(&buf[0])
	mr, errno := C.ibv_reg_mr(pd.raw, addr, C.size_t(len(buf)), C.int(access))
	if mr == nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindRegisterMR, "ibv_reg_mr", errno)
	}
	m := &MemoryRegion{raw: mr, lkey: uint32(mr.lkey), rkey: uint32(mr.rkey)}
	armLeakFinalizer(m, "MemoryRegion", &m.closed)
	return m, nil
}

// ProtectionDomain wraps struct ibv_pd.
type ProtectionDomain struct {
	mu     sync.Mutex
	raw    *C.struct_ibv_pd
	closed bool
}

func (pd *ProtectionDomain) Close() error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.closed {
		return nil
	}
	pd.closed = true
	disarmLeakFinalizer(pd)
	if rc := C.ibv_dealloc_pd(pd.raw); rc != 0 {
		return fmt.Errorf("ibv_dealloc_pd: rc=%d", int(rc))
	}
	return nil
}

// CompChannel wraps struct ibv_comp_channel.
type CompChannel struct {
	mu     sync.Mutex
	raw    *C.struct_ibv_comp_channel
	fd     int
	closed bool
}

func (ch *CompChannel) Fd() int { return ch.fd }

// GetCQEvent drains one completion event, returning the cq_context
// token the CQ was created with. Returns (0, false, nil) on
// would-block, an error otherwise.
func (ch *CompChannel) GetCQEvent() (cqContext uintptr, ok bool, err error) {
	var cq *C.struct_ibv_cq
	var cctx unsafe.Pointer
	rc, errno := C.ibv_get_cq_event(ch.raw, &cq, &cctx)
	if rc != 0 {
		if errors.Is(errno, syscall.EAGAIN) {
			return 0, false, nil
		}
		return 0, false, r2dmaerr.Wrap(r2dmaerr.KindGetCQEvent, "ibv_get_cq_event", errno)
	}
	return uintptr(cctx), true, nil
}

func (ch *CompChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true
	disarmLeakFinalizer(ch)
	if rc := C.ibv_destroy_comp_channel(ch.raw); rc != 0 {
		return fmt.Errorf("ibv_destroy_comp_channel: rc=%d", int(rc))
	}
	return nil
}

// CompQueue wraps struct ibv_cq.
type CompQueue struct {
	mu         sync.Mutex
	raw        *C.struct_ibv_cq
	cqContext  uintptr
	unacked    uint32
	closed     bool
}

func (cq *CompQueue) CQContext() uintptr { return cq.cqContext }

func (cq *CompQueue) ReqNotify(solicitedOnly bool) error {
	var so C.int
	if solicitedOnly {
		so = 1
	}
	if rc := C.ibv_req_notify_cq(cq.raw, so); rc != 0 {
		return r2dmaerr.Wrap(r2dmaerr.KindReqNotifyCQ, "ibv_req_notify_cq", fmt.Errorf("rc=%d", int(rc)))
	}
	return nil
}

// MarkEventAcked increments the pending-ack counter; Close amortizes
// ibv_ack_cq_events into a single call.
func (cq *CompQueue) MarkEventAcked() {
	cq.mu.Lock()
	cq.unacked++
	cq.mu.Unlock()
}

// Poll drains up to len(out) completions into out, returning the
// filled prefix length.
func (cq *CompQueue) Poll(out []WorkCompletion) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	raw := C.r2dma_alloc_wc(C.int(len(out)))
	if raw == nil {
		return 0, r2dmaerr.New(r2dmaerr.KindAllocateMemory, "calloc ibv_wc")
	}
	defer C.free(unsafe.Pointer(raw))

	n := C.ibv_poll_cq(cq.raw, C.int(len(out)), raw)
	if n < 0 {
		return 0, r2dmaerr.Wrap(r2dmaerr.KindPollCQ, "ibv_poll_cq", fmt.Errorf("rc=%d", int(n)))
	}
	wcs := unsafe.Slice(raw, int(n))
	for i := 0; i < int(n); i++ {
		out[i] = toWorkCompletion(wcs[i])
	}
	return int(n), nil
}

func toWorkCompletion(wc C.struct_ibv_wc) WorkCompletion {
	out := WorkCompletion{
		WRID:    uint64(wc.wr_id),
		ByteLen: uint32(wc.byte_len),
		QPNum:   uint32(wc.qp_num),
	}
	switch wc.status {
	case C.IBV_WC_SUCCESS:
		out.Status = WCStatusSuccess
	case C.IBV_WC_WR_FLUSH_ERR:
		out.Status = WCStatusFlushErr
	case C.IBV_WC_RNR_RETRY_EXC_ERR:
		out.Status = WCStatusRNRRetryExcErr
	case C.IBV_WC_RETRY_EXC_ERR:
		out.Status = WCStatusRetryExcErr
	default:
		out.Status = WCStatusOther
	}
	switch wc.opcode {
	case C.IBV_WC_SEND:
		out.Opcode = WCOpcodeSend
	case C.IBV_WC_RECV, C.IBV_WC_RECV_RDMA_WITH_IMM:
		out.Opcode = WCOpcodeRecv
	case C.IBV_WC_RDMA_READ:
		out.Opcode = WCOpcodeRDMARead
	}
	if wc.wc_flags&C.IBV_WC_WITH_IMM != 0 {
		out.HasImmData = true
		out.ImmData = uint32(*(*C.uint32_t)(unsafe.Pointer(&wc.imm_data)))
	}
	return out
}

func (cq *CompQueue) Close() error {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.closed {
		return nil
	}
	cq.closed = true
	disarmLeakFinalizer(cq)
	if cq.unacked > 0 {
		C.ibv_ack_cq_events(cq.raw, C.uint(cq.unacked))
		cq.unacked = 0
	}
	if rc := C.ibv_destroy_cq(cq.raw); rc != 0 {
		return fmt.Errorf("ibv_destroy_cq: rc=%d", int(rc))
	}
	return nil
}

// MemoryRegion wraps struct ibv_mr.
type MemoryRegion struct {
	mu     sync.Mutex
	raw    *C.struct_ibv_mr
	lkey   uint32
	rkey   uint32
	closed bool
}

func (mr *MemoryRegion) Lkey() uint32 { return mr.lkey }
func (mr *MemoryRegion) Rkey() uint32 { return mr.rkey }

func (mr *MemoryRegion) Close() error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.closed {
		return nil
	}
	mr.closed = true
	disarmLeakFinalizer(mr)
	if rc := C.ibv_dereg_mr(mr.raw); rc != 0 {
		return fmt.Errorf("ibv_dereg_mr: rc=%d", int(rc))
	}
	return nil
}

// QueuePair wraps struct ibv_qp, created as reliable connected (RC).
type QueuePair struct {
	mu     sync.Mutex
	raw    *C.struct_ibv_qp
	closed bool
}

// CreateQP creates an RC queue pair bound to send/recv CQs.
func (pd *ProtectionDomain) CreateQP(sendCQ, recvCQ *CompQueue, caps QPCaps) (*QueuePair, error) {
	var attr C.struct_ibv_qp_init_attr
	attr.send_cq = sendCQ.raw
	attr.recv_cq = recvCQ.raw
	attr.qp_type = C.IBV_QPT_RC
	attr.sq_sig_all = 0
	attr.cap.max_send_wr = C.uint32_t(caps.MaxSendWR)
	attr.cap.max_recv_wr = C.uint32_t(caps.MaxRecvWR)
	attr.cap.max_send_sge = C.uint32_t(caps.MaxSendSGE)
	attr.cap.max_recv_sge = C.uint32_t(caps.MaxRecvSGE)
	attr.cap.max_inline_data = C.uint32_t(caps.MaxInlineData)

	qp, errno := C.ibv_create_qp(pd.raw, &attr)
	if qp == nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindCreateQP, "ibv_create_qp", errno)
	}
	q := &QueuePair{raw: qp}
	armLeakFinalizer(q, "QueuePair", &q.closed)
	return q, nil
}

func (qp *QueuePair) QPNum() uint32 { return uint32(qp.raw.qp_num) }

// Init moves the QP to INIT with the given access flags.
func (qp *QueuePair) Init(portNum uint8, pkeyIndex uint16, access AccessFlags) error {
	var attr C.struct_ibv_qp_attr
	attr.qp_state = C.IBV_QPS_INIT
	attr.pkey_index = C.uint16_t(pkeyIndex)
	attr.port_num = C.uint8_t(portNum)
	attr.qp_access_flags = C.uint32_t(access)
	mask := C.IBV_QP_STATE | C.IBV_QP_PKEY_INDEX | C.IBV_QP_PORT | C.IBV_QP_ACCESS_FLAGS
	if rc := C.ibv_modify_qp(qp.raw, &attr, C.int(mask)); rc != 0 {
		return r2dmaerr.Wrap(r2dmaerr.KindModifyQP, "ibv_modify_qp(INIT)", fmt.Errorf("rc=%d", int(rc)))
	}
	return nil
}

// ReadyToRecv moves the QP from INIT to RTR using the peer endpoint.
func (qp *QueuePair) ReadyToRecv(remote RemoteEndpoint, mtu int) error {
	var attr C.struct_ibv_qp_attr
	attr.qp_state = C.IBV_QPS_RTR
	attr.path_mtu = C.enum_ibv_mtu(mtu)
	attr.dest_qp_num = C.uint32_t(remote.QPNum)
	attr.rq_psn = 0
	attr.max_dest_rd_atomic = 1
	attr.min_rnr_timer = 12
	attr.ah_attr.dlid = C.uint16_t(remote.LID)
	attr.ah_attr.sl = 0
	attr.ah_attr.src_path_bits = 0
	attr.ah_attr.port_num = C.uint8_t(remote.PortNum)
	if remote.GID != (Gid{}) {
		attr.ah_attr.is_global = 1
		attr.ah_attr.grh.hop_limit = 1
		attr.ah_attr.grh.sgid_index = C.uint8_t(remote.GidIndex)
		dgid := (*[16]C.uint8_t)(unsafe.Pointer(&attr.ah_attr.grh.dgid))
		for i, b := range remote.GID {
			dgid[i] = C.uint8_t(b)
		}
	}
	mask := C.IBV_QP_STATE | C.IBV_QP_AV | C.IBV_QP_PATH_MTU | C.IBV_QP_DEST_QPN |
		C.IBV_QP_RQ_PSN | C.IBV_QP_MAX_DEST_RD_ATOMIC | C.IBV_QP_MIN_RNR_TIMER
	if rc := C.ibv_modify_qp(qp.raw, &attr, C.int(mask)); rc != 0 {
		return r2dmaerr.Wrap(r2dmaerr.KindModifyQP, "ibv_modify_qp(RTR)", fmt.Errorf("rc=%d", int(rc)))
	}
	return nil
}

// ReadyToSend moves the QP from RTR to RTS.
func (qp *QueuePair) ReadyToSend() error {
	var attr C.struct_ibv_qp_attr
	attr.qp_state = C.IBV_QPS_RTS
	attr.sq_psn = 0
	attr.timeout = 14
	attr.retry_cnt = 7
	attr.rnr_retry = 7
	attr.max_rd_atomic = 1
	mask := C.IBV_QP_STATE | C.IBV_QP_SQ_PSN | C.IBV_QP_TIMEOUT |
		C.IBV_QP_RETRY_CNT | C.IBV_QP_RNR_RETRY | C.IBV_QP_MAX_QP_RD_ATOMIC
	if rc := C.ibv_modify_qp(qp.raw, &attr, C.int(mask)); rc != 0 {
		return r2dmaerr.Wrap(r2dmaerr.KindModifyQP, "ibv_modify_qp(RTS)", fmt.Errorf("rc=%d", int(rc)))
	}
	return nil
}

// SetError forces the QP into the ERR state, flushing all pending
// work as WR_FLUSH_ERR completions.
func (qp *QueuePair) SetError() error {
	var attr C.struct_ibv_qp_attr
	attr.qp_state = C.IBV_QPS_ERR
	if rc := C.ibv_modify_qp(qp.raw, &attr, C.IBV_QP_STATE); rc != 0 {
		return r2dmaerr.Wrap(r2dmaerr.KindModifyQP, "ibv_modify_qp(ERR)", fmt.Errorf("rc=%d", int(rc)))
	}
	return nil
}

func (qp *QueuePair) PostSend(wr SendWorkRequest) error {
	sges := C.r2dma_alloc_sge(C.int(len(wr.SGL)))
	if sges == nil && len(wr.SGL) > 0 {
		return r2dmaerr.New(r2dmaerr.KindAllocateMemory, "calloc ibv_sge")
	}
	if sges != nil {
		defer C.free(unsafe.Pointer(sges))
	}
	sgeSlice := unsafe.Slice(sges, len(wr.SGL))
	for i, sge := range wr.SGL {
		sgeSlice[i] = C.struct_ibv_sge{
			addr:   C.uint64_t(sge.Addr),
			length: C.uint32_t(sge.Length),
			lkey:   C.uint32_t(sge.Lkey),
		}
	}

	var cwr C.struct_ibv_send_wr
	cwr.wr_id = C.uint64_t(wr.WRID)
	if len(wr.SGL) > 0 {
		cwr.sg_list = sges
	}
	cwr.num_sge = C.int(len(wr.SGL))
	switch wr.Kind {
	case WRSendWithImm:
		cwr.opcode = C.IBV_WR_SEND_WITH_IMM
		*(*C.uint32_t)(unsafe.Pointer(&cwr.imm_data)) = C.uint32_t(wr.Immediate)
	default:
		cwr.opcode = C.IBV_WR_SEND
	}
	if wr.SignalAll {
		cwr.send_flags = C.IBV_SEND_SIGNALED
	}

	var badWr *C.struct_ibv_send_wr
	if rc := C.ibv_post_send(qp.raw, &cwr, &badWr); rc != 0 {
		return r2dmaerr.Wrap(r2dmaerr.KindPostSend, "ibv_post_send", fmt.Errorf("rc=%d", int(rc)))
	}
	return nil
}

func (qp *QueuePair) PostRecv(wr RecvWorkRequest) error {
	sges := C.r2dma_alloc_sge(C.int(len(wr.SGL)))
	if sges == nil && len(wr.SGL) > 0 {
		return r2dmaerr.New(r2dmaerr.KindAllocateMemory, "calloc ibv_sge")
	}
	if sges != nil {
		defer C.free(unsafe.Pointer(sges))
	}
	sgeSlice := unsafe.Slice(sges, len(wr.SGL))
	for i, sge := range wr.SGL {
		sgeSlice[i] = C.struct_ibv_sge{
			addr:   C.uint64_t(sge.Addr),
			length: C.uint32_t(sge.Length),
			lkey:   C.uint32_t(sge.Lkey),
		}
	}

	var cwr C.struct_ibv_recv_wr
	cwr.wr_id = C.uint64_t(wr.WRID)
	if len(wr.SGL) > 0 {
		cwr.sg_list = sges
	}
	cwr.num_sge = C.int(len(wr.SGL))

	var badWr *C.struct_ibv_recv_wr
	if rc := C.ibv_post_recv(qp.raw, &cwr, &badWr); rc != 0 {
		return r2dmaerr.Wrap(r2dmaerr.KindPostRecv, "ibv_post_recv", fmt.Errorf("rc=%d", int(rc)))
	}
	return nil
}

func (qp *QueuePair) Close() error {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	if qp.closed {
		return nil
	}
	qp.closed = true
	disarmLeakFinalizer(qp)
	if rc := C.ibv_destroy_qp(qp.raw); rc != 0 {
		return fmt.Errorf("ibv_destroy_qp: rc=%d", int(rc))
	}
	return nil
}
