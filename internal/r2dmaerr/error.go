// Package r2dmaerr defines the typed error carried across the verbs,
// device, pool, socket, and RPC layers, per the error handling design.
package r2dmaerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the non-exhaustive error categories named by the
// error handling design. Callers should prefer errors.Is against a
// Kind value over string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceEnumeration
	KindDeviceNotFound
	KindOpenDevice
	KindQueryDevice
	KindQueryPort
	KindQueryGid
	KindQueryGidType
	KindAllocatePD
	KindCreateCompChannel
	KindSetNonBlock
	KindGetCQEvent
	KindCreateCQ
	KindReqNotifyCQ
	KindPollCQ
	KindRegisterMR
	KindCreateQP
	KindModifyQP
	KindPostSend
	KindPostRecv
	KindAllocateMemory
	KindWorkPoolExhausted
	KindChannelSend
	KindIO
	KindTimeout
	KindInvalidArgument
	KindSerialize
	KindDeserialize
	KindTCPConnect
	KindTCPParse
	KindTCPSend
	KindTCPRecv
	KindSocketError
	KindUnsupportedPlatform
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindDeviceEnumeration:   "device_enumeration",
	KindDeviceNotFound:      "device_not_found",
	KindOpenDevice:          "open_device",
	KindQueryDevice:         "query_device",
	KindQueryPort:           "query_port",
	KindQueryGid:            "query_gid",
	KindQueryGidType:        "query_gid_type",
	KindAllocatePD:          "allocate_pd",
	KindCreateCompChannel:   "create_comp_channel",
	KindSetNonBlock:         "set_non_block",
	KindGetCQEvent:          "get_cq_event",
	KindCreateCQ:            "create_cq",
	KindReqNotifyCQ:         "req_notify_cq",
	KindPollCQ:              "poll_cq",
	KindRegisterMR:          "register_mr",
	KindCreateQP:            "create_qp",
	KindModifyQP:            "modify_qp",
	KindPostSend:            "post_send",
	KindPostRecv:            "post_recv",
	KindAllocateMemory:      "allocate_memory",
	KindWorkPoolExhausted:   "work_pool_exhausted",
	KindChannelSend:         "channel_send",
	KindIO:                  "io",
	KindTimeout:             "timeout",
	KindInvalidArgument:     "invalid_argument",
	KindSerialize:           "serialize",
	KindDeserialize:         "deserialize",
	KindTCPConnect:          "tcp_connect",
	KindTCPParse:            "tcp_parse",
	KindTCPSend:             "tcp_send",
	KindTCPRecv:             "tcp_recv",
	KindSocketError:         "socket_error",
	KindUnsupportedPlatform: "unsupported_platform",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the typed error threaded through every constructor and
// posting operation. Op names the failing operation (e.g.
// "ibv_create_qp"); Err wraps the underlying cause (an errno, a
// syscall error, or another r2dmaerr.Error).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// callers can write errors.Is(err, r2dmaerr.Timeout).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error of the given kind and op, with no wrapped
// cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap constructs an *Error of the given kind wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// sentinels usable with errors.Is(err, r2dmaerr.Timeout) etc.
var (
	Timeout             = &Error{Kind: KindTimeout}
	InvalidArgument     = &Error{Kind: KindInvalidArgument}
	SocketError         = &Error{Kind: KindSocketError}
	AllocateMemory      = &Error{Kind: KindAllocateMemory}
	WorkPoolExhausted   = &Error{Kind: KindWorkPoolExhausted}
	DeviceNotFound      = &Error{Kind: KindDeviceNotFound}
	UnsupportedPlatform = &Error{Kind: KindUnsupportedPlatform}
)
