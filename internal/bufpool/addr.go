package bufpool

import "unsafe"

func addrOf(buf []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}
