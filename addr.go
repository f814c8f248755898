// Package sockstack provides a bounded secured-socket client stack: a fixed
// set of socket slots, each able to open a raw transport connection and
// upgrade it to a secured session, addressed by small integer handles.
// It implements the handle-scoped connect/send/receive/close contract that
// embedded network clients (MQTT and similar) are written against.
package sockstack

import (
	"fmt"
	"net/netip"

	"github.com/samber/oops"
)

// SocketAddr implements net.Addr for the remote end of a stack slot.
type SocketAddr struct {
	handle Handle
	remote netip.AddrPort
}

// NewSocketAddr creates a SocketAddr for a handle and its remote endpoint.
func NewSocketAddr(h Handle, remote netip.AddrPort) *SocketAddr {
	return &SocketAddr{
		handle: h,
		remote: remote,
	}
}

// Network returns "tls+tcp": a secured session over TCP.
func (sa *SocketAddr) Network() string {
	return "tls+tcp"
}

// String returns a string representation of the address.
// Format: "sock://[handle]/[ip:port]"
// Example: "sock://0/203.0.113.5:8883"
func (sa *SocketAddr) String() string {
	if !sa.remote.IsValid() {
		return fmt.Sprintf("sock://%d", int(sa.handle))
	}
	return fmt.Sprintf("sock://%d/%s", int(sa.handle), sa.remote)
}

// Handle returns the slot handle.
func (sa *SocketAddr) Handle() Handle {
	return sa.handle
}

// AddrPort returns the remote IPv4 endpoint.
func (sa *SocketAddr) AddrPort() netip.AddrPort {
	return sa.remote
}

// ParseRemote parses "ip:port" into a remote endpoint accepted by Connect.
// Only IPv4 is supported; IPv6 yields an error of KindUnsupported.
func ParseRemote(s string) (netip.AddrPort, error) {
	remote, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, newError(KindOther, opParse, NoHandle, oops.
			Code("INVALID_ADDRESS").
			In("sockstack").
			With("address", s).
			Wrapf(err, "invalid remote address"))
	}
	return requireIPv4(opParse, NoHandle, remote)
}

// requireIPv4 returns remote with an IPv4-mapped address unmapped, or an
// error of KindUnsupported for any other address family.
func requireIPv4(op string, h Handle, remote netip.AddrPort) (netip.AddrPort, error) {
	addr := remote.Addr().Unmap()
	if !addr.Is4() {
		return netip.AddrPort{}, newError(KindUnsupported, op, h, oops.
			Code("UNSUPPORTED_ADDRESS").
			In("sockstack").
			With("remote", remote.String()).
			Errorf("only IPv4 remote addresses are supported"))
	}
	return netip.AddrPortFrom(addr, remote.Port()), nil
}
