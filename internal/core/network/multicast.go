package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/net/ipv4"
)

var log = logging.Logger("mcast-network")

const (
	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507

	defaultPollInterval = 250 * time.Millisecond
)

// MulticastOptions configures the UDP multicast transport.
type MulticastOptions struct {
	// Interface names the NIC used for membership and outbound traffic.
	// Empty selects the system default.
	Interface string
	TTL       int
	Loopback  bool
	// PollInterval bounds how long Receive waits on the socket before it
	// re-checks for cancellation.
	PollInterval time.Duration
	ReadBuffer   int
}

// MulticastTransport sends and receives datagrams on an IPv4 multicast group.
type MulticastTransport struct {
	opts MulticastOptions
	ifi  *net.Interface

	send   *net.UDPConn
	sendPC *ipv4.PacketConn

	mu     sync.Mutex
	recv   *net.UDPConn
	recvPC *ipv4.PacketConn
	group  Group

	closeOnce sync.Once
	closed    chan struct{}
}

func NewMulticastTransport(opts MulticastOptions) (*MulticastTransport, error) {
	if opts.TTL <= 0 {
		opts.TTL = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	var ifi *net.Interface
	if opts.Interface != "" {
		i, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			return nil, fmt.Errorf("lookup interface %q: %w", opts.Interface, err)
		}
		ifi = i
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("open send socket: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(opts.TTL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(opts.Loopback); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set multicast interface %s: %w", ifi.Name, err)
		}
	}

	return &MulticastTransport{
		opts:   opts,
		ifi:    ifi,
		send:   conn,
		sendPC: pc,
		closed: make(chan struct{}),
	}, nil
}

// Join binds the group port and joins the group. Joining a different group
// leaves the previous one first.
func (t *MulticastTransport) Join(_ context.Context, group Group) error {
	if group.IsZero() {
		return ErrInvalidGroup
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recv != nil {
		if t.group.String() == group.String() {
			return nil
		}
		t.leaveLocked()
	}

	gaddr := group.UDPAddr()
	conn, err := net.ListenMulticastUDP("udp4", t.ifi, gaddr)
	if err != nil {
		return fmt.Errorf("join %s: %w", group, err)
	}
	if t.opts.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(t.opts.ReadBuffer); err != nil {
			log.Warnf("set read buffer on %s: %v", group, err)
		}
	}
	t.recv = conn
	t.recvPC = ipv4.NewPacketConn(conn)
	t.group = group
	log.Debugw("joined multicast group", "group", group.String(), "interface", t.opts.Interface)
	return nil
}

func (t *MulticastTransport) leaveLocked() error {
	if t.recv == nil {
		return nil
	}
	var errs []error
	if err := t.recvPC.LeaveGroup(t.ifi, &net.UDPAddr{IP: t.group.UDPAddr().IP}); err != nil {
		errs = append(errs, fmt.Errorf("leave %s: %w", t.group, err))
	}
	if err := t.recv.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Debugw("left multicast group", "group", t.group.String())
	t.recv = nil
	t.recvPC = nil
	t.group = Group{}
	return errors.Join(errs...)
}

func (t *MulticastTransport) Send(ctx context.Context, group Group, data []byte) error {
	if group.IsZero() {
		return ErrInvalidGroup
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: %d > %d", ErrDatagramTooLarge, len(data), MaxDatagramSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	if _, err := t.sendPC.WriteTo(data, nil, group.UDPAddr()); err != nil {
		return fmt.Errorf("send to %s: %w", group, err)
	}
	return nil
}

// Receive waits for the next datagram. The socket is polled with a read
// deadline so ctx cancellation is noticed within PollInterval.
func (t *MulticastTransport) Receive(ctx context.Context) (Datagram, error) {
	t.mu.Lock()
	conn := t.recv
	t.mu.Unlock()
	if conn == nil {
		select {
		case <-t.closed:
			return Datagram{}, ErrClosed
		default:
			return Datagram{}, ErrNotJoined
		}
	}

	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return Datagram{}, ctx.Err()
		case <-t.closed:
			return Datagram{}, ErrClosed
		default:
		}
		if err := conn.SetReadDeadline(time.Now().Add(t.opts.PollInterval)); err != nil {
			return Datagram{}, t.readErr(err)
		}
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return Datagram{}, t.readErr(err)
		}
		return Datagram{Data: append([]byte(nil), buf[:n]...), Source: src.String()}, nil
	}
}

func (t *MulticastTransport) readErr(err error) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("multicast receive: %w", err)
}

// Close leaves the group and releases both sockets.
func (t *MulticastTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		leaveErr := t.leaveLocked()
		t.mu.Unlock()
		err = errors.Join(leaveErr, t.send.Close())
	})
	return err
}

// LocalAddr is the source address outbound datagrams are sent from.
func (t *MulticastTransport) LocalAddr() net.Addr {
	return t.send.LocalAddr()
}
