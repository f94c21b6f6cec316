package network

import (
	"context"
	"errors"
)

var (
	ErrClosed           = errors.New("transport closed")
	ErrNotJoined        = errors.New("transport has not joined a group")
	ErrDatagramTooLarge = errors.New("datagram exceeds transport limit")
)

// Datagram is one raw datagram received from the group.
type Datagram struct {
	Data   []byte
	Source string
}

// Transport moves raw datagrams to and from a multicast group. Receive
// blocks until a datagram arrives, ctx is done or the transport is closed.
type Transport interface {
	Join(ctx context.Context, group Group) error
	Send(ctx context.Context, group Group, data []byte) error
	Receive(ctx context.Context) (Datagram, error)
	Close() error
}
