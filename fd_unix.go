//go:build linux

package ringrt

import (
	"golang.org/x/sys/unix"
)

// closeFD, readFD and writeFD centralize the raw descriptor syscalls
// TCPListener, TCPConn and the Reactor's wakeup eventfd all need.
func closeFD(fd int) error {
	return unix.Close(fd)
}

func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}
