package sockstack

// link is what a slot currently owns: either the raw socket or the session
// that consumed it. The two variants are exclusive; moving between them is
// the only way ownership changes.
type link interface {
	isLink()
}

// rawLink owns the raw transport socket. No session exists.
type rawLink struct {
	sock RawSocket
}

// sessionLink owns the secured session, which in turn owns the raw socket.
type sessionLink struct {
	sess Session
}

func (rawLink) isLink()     {}
func (sessionLink) isLink() {}
