package ringrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIOError_ErrorAndUnwrap(t *testing.T) {
	withCause := &IOError{Op: "accept", Errno: int(unix.ECONNABORTED), Cause: unix.ECONNABORTED}
	assert.Contains(t, withCause.Error(), "accept")
	assert.ErrorIs(t, withCause, unix.ECONNABORTED)

	bare := &IOError{Op: "poll", Errno: 9}
	assert.Contains(t, bare.Error(), "errno 9")
	assert.Nil(t, bare.Unwrap())
}

func TestJoinError_Error(t *testing.T) {
	assert.Contains(t, (&JoinError{Panicked: "x"}).Error(), "panicked")
	assert.Contains(t, (&JoinError{Cancelled: true}).Error(), "cancelled")
	assert.Contains(t, (&JoinError{}).Error(), "did not complete")
}
