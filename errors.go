package sockstack

import "errors"

// Kind is the shared error taxonomy every socket operation reports into.
// Raw transport errors and secured-session errors are both classified into
// exactly one Kind by the Classifier of the layer that produced them.
type Kind int

const (
	// KindOther is an uncategorized, fatal condition.
	KindOther Kind = iota
	// KindWouldBlock means no progress was possible yet and no data moved.
	// The operation may be retried.
	KindWouldBlock
	// KindConnectionClosed means the peer or the pipe is gone. Terminal for the socket.
	KindConnectionClosed
	// KindUnsupported means the request cannot be served by this stack,
	// e.g. a non-IPv4 remote address.
	KindUnsupported
	// KindExhausted means every handle of the stack is in use.
	KindExhausted
	// KindNotConnected means I/O was attempted on a socket that is not secured.
	KindNotConnected
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindWouldBlock:
		return "would block"
	case KindConnectionClosed:
		return "connection closed"
	case KindUnsupported:
		return "unsupported"
	case KindExhausted:
		return "exhausted"
	case KindNotConnected:
		return "not connected"
	default:
		return "unknown"
	}
}

// Error makes a Kind usable as an errors.Is target.
func (k Kind) Error() string {
	return "sockstack: " + k.String()
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrOther            error = KindOther
	ErrWouldBlock       error = KindWouldBlock
	ErrConnectionClosed error = KindConnectionClosed
	ErrUnsupported      error = KindUnsupported
	ErrExhausted        error = KindExhausted
	ErrNotConnected     error = KindNotConnected
)

// Classifier maps the errors of one layer (raw transport or secured session)
// into the shared taxonomy. Implementations must be total and deterministic:
// the same error always yields the same Kind.
type Classifier interface {
	Classify(err error) Kind
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) Kind

// Classify calls f(err).
func (f ClassifierFunc) Classify(err error) Kind {
	return f(err)
}

// Error is returned by every Stack and SecuredSocket operation.
// Err carries the cause, usually an oops error with code and context.
type Error struct {
	Kind   Kind
	Op     string
	Handle Handle
	Err    error
}

func (e *Error) Error() string {
	msg := "sockstack: " + e.Op
	if e.Handle != NoHandle {
		msg += " " + e.Handle.String()
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Temporary reports whether the operation may be retried as-is.
func (e *Error) Temporary() bool {
	return e.Kind == KindWouldBlock
}

// KindOf returns the kind of err. Errors that did not come from this package,
// and nil, are KindOther.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	var k Kind
	if errors.As(err, &k) {
		return k
	}

	return KindOther
}

// IsWouldBlock reports whether err is a retryable no-progress condition.
func IsWouldBlock(err error) bool {
	return err != nil && KindOf(err) == KindWouldBlock
}

// newError builds an *Error.
func newError(kind Kind, op string, h Handle, cause error) error {
	return &Error{Kind: kind, Op: op, Handle: h, Err: cause}
}

// terminal coerces a classification so it never reads as retryable.
// Used for failures that cannot be resumed, such as a handshake.
func terminal(kind Kind) Kind {
	if kind == KindWouldBlock {
		return KindOther
	}
	return kind
}

// Operation names used in errors and log fields.
const (
	opAcquire = "acquire"
	opConnect = "connect"
	opSend    = "send"
	opReceive = "receive"
	opClose   = "close"
	opRelease = "release"
	opParse   = "parse"
)
