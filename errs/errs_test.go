package errs

import (
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPeerGone(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"net closed", net.ErrClosed, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"enotconn", syscall.ENOTCONN, true},
		{"econnreset", syscall.ECONNRESET, true},
		{"ebadf", syscall.EBADF, true},
		{"wrapped op error", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"wrapped net closed op error", &net.OpError{Op: "read", Err: net.ErrClosed}, true},
		{"unrelated", fmt.Errorf("timeout"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsPeerGone(c.err))
		})
	}
}
