// Package rawsock provides the raw, unencrypted transport sockets a
// sockstack.Stack is built over: host TCP through the net package, and
// embedded TCP over a soypat/seqs port stack.
package rawsock

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// ErrNotOpen is returned by I/O on a socket that has no connection.
var ErrNotOpen = errors.New("rawsock: socket not open")

// ErrAlreadyOpen is returned by Open on a socket that is still connected.
var ErrAlreadyOpen = errors.New("rawsock: socket already open")

// Classify maps transport errors into the stack taxonomy. It is shared by
// every socket in this package and is total: unknown errors are KindOther.
func Classify(err error) sockstack.Kind {
	switch {
	case err == nil:
		return sockstack.KindOther
	case isTimeout(err):
		return sockstack.KindWouldBlock
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
		return sockstack.KindWouldBlock
	case isClosed(err):
		return sockstack.KindConnectionClosed
	case errors.Is(err, syscall.EAFNOSUPPORT), errors.Is(err, errNotIPv4):
		return sockstack.KindUnsupported
	default:
		return sockstack.KindOther
	}
}

// errNotIPv4 rejects non-IPv4 remotes that bypass the stack's own check.
var errNotIPv4 = errors.New("rawsock: remote is not IPv4")

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	for _, target := range []error{
		io.EOF,
		io.ErrUnexpectedEOF,
		io.ErrClosedPipe,
		net.ErrClosed,
		ErrNotOpen,
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
