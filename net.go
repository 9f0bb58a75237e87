package ringrt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// TCPListener is a raw, non-blocking-capable TCP listening socket. It
// deliberately bypasses net.Listener: that type drives its own internal
// poller, which would fight this runtime's single reactor for ownership of
// the fd's readiness edge.
type TCPListener struct {
	fd int
}

// ListenTCP creates, binds and listens on a non-blocking IPv4 TCP socket at
// addr:port (addr is a dotted IPv4 address, or empty for INADDR_ANY).
func ListenTCP(addr string, port int) (*TCPListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("ringrt: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ringrt: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	if addr != "" {
		ip, err := parseIPv4(addr)
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		sa.Addr = ip
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ringrt: bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ringrt: listen: %w", err)
	}
	return &TCPListener{fd: fd}, nil
}

// Fd implements RawFD.
func (l *TCPListener) Fd() int { return l.fd }

// Close closes the listening socket.
func (l *TCPListener) Close() error { return closeFD(l.fd) }

// acceptOnce performs one non-blocking accept(2) attempt, returning the new
// connection's fd and the peer's address.
func (l *TCPListener) acceptOnce() (int, unix.Sockaddr, error) {
	connFD, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return 0, nil, err
	}
	return connFD, sa, nil
}

// Accept suspends until a connection is ready: the calling Task awaits
// readability via the adapter cycle, then retries accept(2). The accepted
// connection carries the peer's address (see TCPConn.PeerAddr).
func Accept(a *Async[*TCPListener]) Future[Result[*TCPConn]] {
	var peer unix.Sockaddr
	inner := a.ReadWith(func(l *TCPListener) (int, error) {
		connFD, sa, err := l.acceptOnce()
		if err != nil {
			return 0, err
		}
		peer = sa
		return connFD, nil
	})
	return FutureFunc[Result[*TCPConn]](func(ctx *Context) (Result[*TCPConn], bool) {
		res, ready := inner.Poll(ctx)
		if !ready {
			return Result[*TCPConn]{}, false
		}
		if res.Err != nil {
			return Result[*TCPConn]{Err: res.Err}, true
		}
		return Result[*TCPConn]{Value: &TCPConn{fd: res.Value, peer: peer}}, true
	})
}

// TCPConn is a raw, non-blocking TCP connection, typically produced by
// Accept.
type TCPConn struct {
	fd   int
	peer unix.Sockaddr
}

// Fd implements RawFD.
func (c *TCPConn) Fd() int { return c.fd }

// PeerAddr returns the remote address reported by accept(2), or nil for a
// connection not produced by Accept.
func (c *TCPConn) PeerAddr() unix.Sockaddr { return c.peer }

// Close closes the connection.
func (c *TCPConn) Close() error { return closeFD(c.fd) }

// ReadOnce performs one non-blocking read(2) attempt; pass to
// Async[*TCPConn].ReadWith.
func (c *TCPConn) ReadOnce(buf []byte) (int, error) {
	return readFD(c.fd, buf)
}

// WriteOnce performs one non-blocking write(2) attempt; pass to
// Async[*TCPConn].WriteWith.
func (c *TCPConn) WriteOnce(buf []byte) (int, error) {
	return writeFD(c.fd, buf)
}

func parseIPv4(host string) ([4]byte, error) {
	var out [4]byte
	var a, b, c, d int
	n, err := fmt.Sscanf(host, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return out, fmt.Errorf("ringrt: invalid IPv4 address %q", host)
	}
	out[0], out[1], out[2], out[3] = byte(a), byte(b), byte(c), byte(d)
	return out, nil
}
