// Package ibv is a thin ownership wrapper over the platform's
// user-space verbs provider (libibverbs). It exposes typed,
// single-close handles for context, protection domain, completion
// channel, completion queue, queue pair, and memory region, mirroring
// the wrapper discipline described by the socket engine design: every
// wrapper invokes its provider's delete-style call exactly once on
// Close and returns a nonzero return from it as an error, which the
// owning caller logs.
//
// The real cgo-backed implementation lives in ibv_linux.go, gated by
// `linux && cgo`. Every other platform/build gets ibv_stub.go, which
// returns r2dmaerr.UnsupportedPlatform from every constructor — the
// same build-tag split internal/netdev uses for provider_linux.go /
// provider_unsupported.go.
package ibv

import "fmt"

// Gid is a 128-bit global identifier, interpreted either as a
// (subnet prefix, interface id) pair or as a raw IPv6 address
// depending on GidType.
type Gid [16]byte

func (g Gid) String() string {
	return fmt.Sprintf("%x:%x:%x:%x:%x:%x:%x:%x",
		uint16(g[0])<<8|uint16(g[1]),
		uint16(g[2])<<8|uint16(g[3]),
		uint16(g[4])<<8|uint16(g[5]),
		uint16(g[6])<<8|uint16(g[7]),
		uint16(g[8])<<8|uint16(g[9]),
		uint16(g[10])<<8|uint16(g[11]),
		uint16(g[12])<<8|uint16(g[13]),
		uint16(g[14])<<8|uint16(g[15]))
}

// PortState mirrors enum ib_port_state.
type PortState int

// PortAttrs is the subset of struct ibv_port_attr the socket engine
// needs to drive QP state transitions and report port health.
type PortAttrs struct {
	State       PortState
	PhysState   int
	LID         uint16
	LMC         uint8
	MaxMTU      int
	ActiveMTU   int
	GidTblLen   int
	PortCap     uint32
	LinkLayer   string // "IB", "Ethernet", or "Unspecified"
	ActiveSpeed int
	ActiveWidth int
}

// DeviceAttrs is the subset of struct ibv_device_attr consumed by the
// device registry (queue pair sizing limits).
type DeviceAttrs struct {
	FwVersion        string
	MaxQP            int
	MaxQPWr          int
	MaxCQ            int
	MaxCQE           int
	MaxMR            int
	MaxMRSize        uint64
	MaxPD            int
	MaxSGE           int
	PhysPortCount    int
	VendorID         uint32
	VendorPartID     uint32
	HWVer            uint32
}

// AccessFlags mirrors the ibv_access_flags bitmask used by MR
// registration and QP init.
type AccessFlags uint32

const (
	AccessLocalWrite AccessFlags = 1 << iota
	AccessRemoteWrite
	AccessRemoteRead
	AccessRelaxedOrdering AccessFlags = 1 << 20
)

// QPCaps sizes the send/recv queues and scatter-gather lists of a
// queue pair, mirroring the `caps` parameter to queue-pair create.
type QPCaps struct {
	MaxSendWR  uint32
	MaxRecvWR  uint32
	MaxSendSGE uint32
	MaxRecvSGE uint32
	MaxInlineData uint32
}

// WorkRequestKind distinguishes a send from a receive or (future)
// RDMA read work request.
type WorkRequestKind int

const (
	WRSend WorkRequestKind = iota
	WRSendWithImm
	WRRecv
	WRRead
)

// SGE is a scatter-gather element: one contiguous registered memory
// span, identified by its lkey.
type SGE struct {
	Addr   uint64
	Length uint32
	Lkey   uint32
}

// SendWorkRequest is the subset of struct ibv_send_wr the socket
// engine posts: a single SGE send, optionally carrying an immediate.
type SendWorkRequest struct {
	WRID      uint64
	SGL       []SGE
	Kind      WorkRequestKind
	Immediate uint32 // valid when Kind == WRSendWithImm
	SignalAll bool
}

// RecvWorkRequest is the subset of struct ibv_recv_wr needed to post
// a receive buffer.
type RecvWorkRequest struct {
	WRID uint64
	SGL  []SGE
}

// WorkCompletionStatus mirrors enum ibv_wc_status; only the values
// the event loop branches on are named.
type WorkCompletionStatus int

const (
	WCStatusSuccess WorkCompletionStatus = iota
	WCStatusFlushErr
	WCStatusRNRRetryExcErr
	WCStatusRetryExcErr
	WCStatusOther
)

func (s WorkCompletionStatus) String() string {
	switch s {
	case WCStatusSuccess:
		return "SUCCESS"
	case WCStatusFlushErr:
		return "WR_FLUSH_ERR"
	case WCStatusRNRRetryExcErr:
		return "RNR_RETRY_EXC_ERR"
	case WCStatusRetryExcErr:
		return "RETRY_EXC_ERR"
	default:
		return "OTHER_ERR"
	}
}

// WorkCompletionOpcode mirrors enum ibv_wc_opcode, restricted to the
// opcodes the event loop dispatches on.
type WorkCompletionOpcode int

const (
	WCOpcodeSend WorkCompletionOpcode = iota
	WCOpcodeRecv
	WCOpcodeRDMARead
)

// WorkCompletion is the subset of struct ibv_wc the event loop reads
// out of a poll_cq batch.
type WorkCompletion struct {
	WRID          uint64
	Status        WorkCompletionStatus
	Opcode        WorkCompletionOpcode
	ByteLen       uint32
	ImmData       uint32
	HasImmData    bool
	QPNum         uint32
}

// RemoteEndpoint is the minimum tuple needed to move an RC QP from
// INIT to RTR.
type RemoteEndpoint struct {
	QPNum uint32
	LID   uint16
	GID   Gid
	GidIndex int
	PortNum  uint8
}
