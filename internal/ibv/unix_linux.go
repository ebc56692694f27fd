//go:build linux && cgo

package ibv

import (
	"golang.org/x/sys/unix"
)

func setNonBlocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
