//go:build !(linux && cgo)

package ibv

import "github.com/rdma-go/r2dma/internal/r2dmaerr"

// DeviceList stub for platforms without libibverbs.
type DeviceList struct{}

// GetDeviceList is only supported on Linux hosts built with cgo.
func GetDeviceList() (*DeviceList, error) {
	return nil, r2dmaerr.Wrap(r2dmaerr.KindDeviceEnumeration, "ibv_get_device_list", r2dmaerr.UnsupportedPlatform)
}

func (l *DeviceList) Len() int          { return 0 }
func (l *DeviceList) Name(i int) string { return "" }
func (l *DeviceList) Open(i int) (*Context, error) {
	return nil, r2dmaerr.UnsupportedPlatform
}
func (l *DeviceList) Free() {}

// Context stub.
type Context struct{}

func (c *Context) Name() string  { return "" }
func (c *Context) Close() error  { return nil }
func (c *Context) AsyncFd() int  { return -1 }

func (c *Context) QueryDevice() (DeviceAttrs, error) {
	return DeviceAttrs{}, r2dmaerr.UnsupportedPlatform
}

func (c *Context) QueryPort(portNum uint8) (PortAttrs, error) {
	return PortAttrs{}, r2dmaerr.UnsupportedPlatform
}

func (c *Context) QueryGid(portNum uint8, index int) (Gid, error) {
	return Gid{}, r2dmaerr.UnsupportedPlatform
}

func (c *Context) AllocPD() (*ProtectionDomain, error) {
	return nil, r2dmaerr.UnsupportedPlatform
}

func (c *Context) CreateCompChannel() (*CompChannel, error) {
	return nil, r2dmaerr.UnsupportedPlatform
}

func (c *Context) CreateCQ(maxCQE int, channel *CompChannel, cqContext uintptr, compVector int) (*CompQueue, error) {
	return nil, r2dmaerr.UnsupportedPlatform
}

// ProtectionDomain stub.
type ProtectionDomain struct{}

func (pd *ProtectionDomain) RegisterMR(buf []byte, access AccessFlags) (*MemoryRegion, error) {
	return nil, r2dmaerr.UnsupportedPlatform
}

func (pd *ProtectionDomain) Close() error { return nil }

func (pd *ProtectionDomain) CreateQP(sendCQ, recvCQ *CompQueue, caps QPCaps) (*QueuePair, error) {
	return nil, r2dmaerr.UnsupportedPlatform
}

// CompChannel stub.
type CompChannel struct{}

func (ch *CompChannel) Fd() int { return -1 }

func (ch *CompChannel) GetCQEvent() (cqContext uintptr, ok bool, err error) {
	return 0, false, r2dmaerr.UnsupportedPlatform
}

func (ch *CompChannel) Close() error { return nil }

// CompQueue stub.
type CompQueue struct{}

func (cq *CompQueue) CQContext() uintptr { return 0 }

func (cq *CompQueue) ReqNotify(solicitedOnly bool) error {
	return r2dmaerr.UnsupportedPlatform
}

func (cq *CompQueue) MarkEventAcked() {}

func (cq *CompQueue) Poll(out []WorkCompletion) (int, error) {
	return 0, r2dmaerr.UnsupportedPlatform
}

func (cq *CompQueue) Close() error { return nil }

// MemoryRegion stub.
type MemoryRegion struct{}

func (mr *MemoryRegion) Lkey() uint32 { return 0 }
func (mr *MemoryRegion) Rkey() uint32 { return 0 }
func (mr *MemoryRegion) Close() error { return nil }

// QueuePair stub.
type QueuePair struct{}

func (qp *QueuePair) QPNum() uint32 { return 0 }

func (qp *QueuePair) Init(portNum uint8, pkeyIndex uint16, access AccessFlags) error {
	return r2dmaerr.UnsupportedPlatform
}

func (qp *QueuePair) ReadyToRecv(remote RemoteEndpoint, mtu int) error {
	return r2dmaerr.UnsupportedPlatform
}

func (qp *QueuePair) ReadyToSend() error { return r2dmaerr.UnsupportedPlatform }
func (qp *QueuePair) SetError() error    { return r2dmaerr.UnsupportedPlatform }

func (qp *QueuePair) PostSend(wr SendWorkRequest) error {
	return r2dmaerr.UnsupportedPlatform
}

func (qp *QueuePair) PostRecv(wr RecvWorkRequest) error {
	return r2dmaerr.UnsupportedPlatform
}

func (qp *QueuePair) Close() error { return nil }
