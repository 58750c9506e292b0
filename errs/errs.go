// Package errs collects the sentinel error values shared by the codec,
// session and config packages, mirroring the error taxonomy the proxy is
// built around: config errors are fatal, everything else is logged and
// contained to the session that raised it.
package errs

import (
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrConfig marks a configuration problem: missing file, section or key.
	// Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrFrameTooShort marks a frame too short for the decode attempted on
	// it. Never fatal; callers fall back to a zeroed record or a nil reply.
	ErrFrameTooShort = errors.New("frame too short")

	// ErrPeerGone marks a socket that looks dead: ENOTCONN, ECONNRESET,
	// EBADF, a closed connection, or a zero-byte read.
	ErrPeerGone = errors.New("peer gone")

	// ErrPublish marks a failure reported by the MQTT adapter. Logged at
	// warning level; processing continues.
	ErrPublish = errors.New("publish error")
)

// IsPeerGone classifies a read/send error against the PeerGone taxonomy:
// ENOTCONN, ECONNRESET, EBADF, a closed connection (ours or the peer's), or
// a clean EOF on a zero-byte read.
func IsPeerGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	// Closing our own end (downgrade, closeSession) unblocks a concurrent
	// Read with one of these rather than an errno; a socket we just closed
	// is exactly as gone as one the peer reset.
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, syscall.ENOTCONN) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EBADF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return errors.Is(netErr.Err, syscall.ENOTCONN) ||
			errors.Is(netErr.Err, syscall.ECONNRESET) ||
			errors.Is(netErr.Err, syscall.EBADF)
	}
	return false
}
