package tlsengine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"

	sockstack "github.com/go-i2p/go-sockstack"
)

// Classify maps TLS session errors into the stack taxonomy.
//
// Certificate, alert and record-layer failures are KindOther. Every other
// error on the secured path, deadlines included, is KindConnectionClosed:
// crypto/tls keeps a failed write as the permanent connection error, so a
// timed-out session never recovers. Peer close and network failure are not
// told apart.
func Classify(err error) sockstack.Kind {
	switch {
	case err == nil:
		return sockstack.KindOther
	case isTimeout(err):
		return sockstack.KindConnectionClosed
	case isProtocolError(err):
		return sockstack.KindOther
	default:
		return sockstack.KindConnectionClosed
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isProtocolError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		alertErr     tls.AlertError
		recordErr    tls.RecordHeaderError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		echRejection *tls.ECHRejectionError
		opErr        *net.OpError
	)
	// crypto/tls reports alerts as net.OpError with these ops.
	if errors.As(err, &opErr) && (opErr.Op == "remote error" || opErr.Op == "local error") {
		return true
	}
	return errors.As(err, &verifyErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &echRejection)
}
