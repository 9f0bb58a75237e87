package ringrt

import (
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseIPv4(t *testing.T) {
	ip, err := parseIPv4("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, ip)

	_, err = parseIPv4("not-an-ip")
	assert.Error(t, err)
}

func TestListenTCP_AcceptOnceWouldBlockWithNoPendingConnection(t *testing.T) {
	port := 20000 + os.Getpid()%10000
	ln, err := ListenTCP("127.0.0.1", port)
	require.NoError(t, err, "requires binding a local TCP port")
	defer ln.Close()

	_, _, err = ln.acceptOnce()
	assert.True(t, isWouldBlock(err), "accept on an idle non-blocking listener must report WouldBlock")
}

// acceptReadFuture drives Accept then one ReadWith call by hand, one Poll
// step at a time, exactly as future.go's Future contract requires: no
// first-class coroutines, so the suspend points are explicit.
type acceptReadFuture struct {
	ln *TCPListener

	async  *Async[*TCPListener]
	accept Future[Result[*TCPConn]]

	conn      *TCPConn
	asyncConn *Async[*TCPConn]
	buf       []byte
	read      Future[Result[int]]

	phase int
}

func (f *acceptReadFuture) Poll(ctx *Context) (string, bool) {
	for {
		switch f.phase {
		case 0:
			if f.async == nil {
				a, err := NewAsync(ctx.Executor(), f.ln)
				if err != nil {
					return "", true
				}
				f.async = a
				f.accept = Accept(f.async)
			}
			res, ready := f.accept.Poll(ctx)
			if !ready {
				return "", false
			}
			if res.Err != nil {
				return "", true
			}
			f.conn = res.Value
			a, err := NewAsync(ctx.Executor(), f.conn)
			if err != nil {
				return "", true
			}
			f.asyncConn = a
			f.buf = make([]byte, 64)
			f.phase = 1
		case 1:
			if f.read == nil {
				f.read = f.asyncConn.ReadWith(func(c *TCPConn) (int, error) { return c.ReadOnce(f.buf) })
			}
			res, ready := f.read.Poll(ctx)
			if !ready {
				return "", false
			}
			if res.Err != nil {
				return "", true
			}
			return string(f.buf[:res.Value]), true
		}
	}
}

func TestRun_AcceptAndReadRoundTrip(t *testing.T) {
	ex := newTestExecutor(t)

	port := 20000 + os.Getpid()%10000
	ln, err := ListenTCP("127.0.0.1", port)
	require.NoError(t, err, "requires binding a local TCP port")
	defer ln.Close()

	clientErr := make(chan error, 1)
	clientAddr := make(chan *net.TCPAddr, 1)
	go func() {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			clientErr <- err
			return
		}
		defer conn.Close()
		clientAddr <- conn.LocalAddr().(*net.TCPAddr)
		_, err = conn.Write([]byte("ping"))
		clientErr <- err
	}()

	f := &acceptReadFuture{ln: ln}
	got, err := Run(ex, f)
	require.NoError(t, err)
	assert.Equal(t, "ping", got)
	require.NoError(t, <-clientErr)

	// The accepted connection must report the dialing client's address.
	want := <-clientAddr
	require.NotNil(t, f.conn)
	peer, ok := f.conn.PeerAddr().(*unix.SockaddrInet4)
	require.True(t, ok, "peer address must be the IPv4 sockaddr accept(2) reported")
	assert.Equal(t, want.Port, peer.Port)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, peer.Addr)
}
