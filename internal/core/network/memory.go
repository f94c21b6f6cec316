package network

import (
	"context"
	"fmt"
	"sync"
)

const memoryInboxSize = 256

// MemoryNetwork is a process-local multicast domain used for development
// and tests. Every endpoint joined to a group receives a copy of each
// datagram sent to it, the sender included.
type MemoryNetwork struct {
	mu     sync.RWMutex
	nextID int
	groups map[string]map[int]*MemoryTransport
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{groups: make(map[string]map[int]*MemoryTransport)}
}

// Endpoint returns a new transport attached to the network.
func (n *MemoryNetwork) Endpoint() *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	return &MemoryTransport{
		net:    n,
		id:     id,
		name:   fmt.Sprintf("mem-%d", id),
		inbox:  make(chan Datagram, memoryInboxSize),
		closed: make(chan struct{}),
	}
}

func (n *MemoryNetwork) deliver(group string, d Datagram) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ep := range n.groups[group] {
		msg := Datagram{Data: append([]byte(nil), d.Data...), Source: d.Source}
		select {
		case ep.inbox <- msg:
		default:
			// Full inbox: drop, as a congested socket buffer would.
		}
	}
}

func (n *MemoryNetwork) join(group string, ep *MemoryTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.groups[group]; !ok {
		n.groups[group] = make(map[int]*MemoryTransport)
	}
	n.groups[group][ep.id] = ep
}

func (n *MemoryNetwork) leave(group string, ep *MemoryTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if members, ok := n.groups[group]; ok {
		delete(members, ep.id)
		if len(members) == 0 {
			delete(n.groups, group)
		}
	}
}

// MemoryTransport is one endpoint of a MemoryNetwork.
type MemoryTransport struct {
	net  *MemoryNetwork
	id   int
	name string

	mu     sync.Mutex
	group  string
	joined bool

	inbox     chan Datagram
	closeOnce sync.Once
	closed    chan struct{}
}

func (t *MemoryTransport) Name() string {
	return t.name
}

func (t *MemoryTransport) Join(_ context.Context, group Group) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.joined {
		t.net.leave(t.group, t)
	}
	t.group = group.String()
	t.joined = true
	t.net.join(t.group, t)
	return nil
}

func (t *MemoryTransport) Send(_ context.Context, group Group, data []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.net.deliver(group.String(), Datagram{Data: data, Source: t.name})
	return nil
}

func (t *MemoryTransport) Receive(ctx context.Context) (Datagram, error) {
	t.mu.Lock()
	joined := t.joined
	t.mu.Unlock()
	if !joined {
		select {
		case <-t.closed:
			return Datagram{}, ErrClosed
		default:
			return Datagram{}, ErrNotJoined
		}
	}
	select {
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	case <-t.closed:
		return Datagram{}, ErrClosed
	case d := <-t.inbox:
		return d, nil
	}
}

func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		if t.joined {
			t.net.leave(t.group, t)
		}
		t.mu.Unlock()
		close(t.closed)
	})
	return nil
}
