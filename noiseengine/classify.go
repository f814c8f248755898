package noiseengine

import (
	"errors"
	"net"
	"os"

	sockstack "github.com/go-i2p/go-sockstack"
)

// protocolError marks failures of the Noise protocol itself: bad handshake
// messages, authentication failures, key mismatches.
type protocolError struct {
	msg string
	err error
}

func (e *protocolError) Error() string {
	if e.err != nil {
		return "noise: " + e.err.Error()
	}
	return "noise: " + e.msg
}

func (e *protocolError) Unwrap() error {
	return e.err
}

// Classify maps Noise session errors into the stack taxonomy. Protocol
// failures are KindOther and anything else on the secured path is
// KindConnectionClosed. A timeout may strike mid-frame or after a nonce was
// spent, so it closes the session as well.
func Classify(err error) sockstack.Kind {
	var pe *protocolError
	switch {
	case err == nil:
		return sockstack.KindOther
	case isTimeout(err):
		return sockstack.KindConnectionClosed
	case errors.As(err, &pe):
		return sockstack.KindOther
	default:
		return sockstack.KindConnectionClosed
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
