package network

import (
	"errors"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var ErrInvalidGroup = errors.New("invalid multicast group")

// Group is a multicast group address and port, written as a multiaddr such
// as /ip4/224.0.0.3/udp/8888.
type Group struct {
	addr ma.Multiaddr
	udp  *net.UDPAddr
}

// ParseGroup parses a /ip4/<multicast ip>/udp/<port> multiaddr.
func ParseGroup(s string) (Group, error) {
	a, err := ma.NewMultiaddr(s)
	if err != nil {
		return Group{}, fmt.Errorf("%w %q: %v", ErrInvalidGroup, s, err)
	}
	return groupFromMultiaddr(a)
}

// NewGroup builds a group from an IPv4 multicast address and a port.
func NewGroup(host string, port int) (Group, error) {
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return Group{}, fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidGroup, host)
	}
	if port <= 0 || port > 65535 {
		return Group{}, fmt.Errorf("%w: port %d out of range", ErrInvalidGroup, port)
	}
	return ParseGroup(fmt.Sprintf("/ip4/%s/udp/%d", ip.To4(), port))
}

func groupFromMultiaddr(a ma.Multiaddr) (Group, error) {
	na, err := manet.ToNetAddr(a)
	if err != nil {
		return Group{}, fmt.Errorf("%w %s: %v", ErrInvalidGroup, a, err)
	}
	udp, ok := na.(*net.UDPAddr)
	if !ok {
		return Group{}, fmt.Errorf("%w %s: not a udp address", ErrInvalidGroup, a)
	}
	if udp.IP.To4() == nil || !udp.IP.IsMulticast() {
		return Group{}, fmt.Errorf("%w %s: not an IPv4 multicast address", ErrInvalidGroup, a)
	}
	if udp.Port == 0 {
		return Group{}, fmt.Errorf("%w %s: port required", ErrInvalidGroup, a)
	}
	return Group{addr: a, udp: udp}, nil
}

// IsZero reports whether g was never set.
func (g Group) IsZero() bool {
	return g.addr == nil
}

func (g Group) Multiaddr() ma.Multiaddr {
	return g.addr
}

// UDPAddr returns a copy of the group's UDP address.
func (g Group) UDPAddr() *net.UDPAddr {
	if g.udp == nil {
		return nil
	}
	cp := *g.udp
	cp.IP = append(net.IP(nil), g.udp.IP...)
	return &cp
}

func (g Group) String() string {
	if g.addr == nil {
		return ""
	}
	return g.addr.String()
}
