package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newJoinedMulticast skips the test on hosts without a multicast route.
func newJoinedMulticast(t *testing.T, g Group) *MulticastTransport {
	t.Helper()
	tr, err := NewMulticastTransport(MulticastOptions{Loopback: true, PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	if err := tr.Join(context.Background(), g); err != nil {
		_ = tr.Close()
		t.Skipf("multicast join unavailable: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestMulticastSendReceive(t *testing.T) {
	g := mustGroup(t, "/ip4/239.255.77.1/udp/47811")
	tr := newJoinedMulticast(t, g)

	if err := tr.Send(context.Background(), g, []byte("ping")); err != nil {
		t.Skipf("multicast send unavailable: %v", err)
	}
	d, err := receiveWithin(t, tr, 2*time.Second)
	if err != nil {
		t.Skipf("multicast loopback not delivered: %v", err)
	}
	assert.Equal(t, []byte("ping"), d.Data)
	assert.NotEmpty(t, d.Source)
}

func TestMulticastReceiveHonoursContext(t *testing.T) {
	g := mustGroup(t, "/ip4/239.255.77.2/udp/47812")
	tr := newJoinedMulticast(t, g)

	start := time.Now()
	_, err := receiveWithin(t, tr, 100*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMulticastCloseUnblocksReceive(t *testing.T) {
	g := mustGroup(t, "/ip4/239.255.77.3/udp/47813")
	tr := newJoinedMulticast(t, g)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Receive(context.Background())
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("receive still blocked after close")
	}
}

func TestMulticastRejectsOversized(t *testing.T) {
	tr, err := NewMulticastTransport(MulticastOptions{})
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer tr.Close()
	g := mustGroup(t, "/ip4/239.255.77.4/udp/47814")
	err = tr.Send(context.Background(), g, make([]byte, MaxDatagramSize+1))
	assert.ErrorIs(t, err, ErrDatagramTooLarge)
}

func TestMulticastReceiveBeforeJoin(t *testing.T) {
	tr, err := NewMulticastTransport(MulticastOptions{})
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer tr.Close()
	_, err = tr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestMulticastInterfaces(t *testing.T) {
	ifs, err := MulticastInterfaces()
	require.NoError(t, err)
	for _, ifi := range ifs {
		assert.NotEmpty(t, ifi.Name)
	}
}
