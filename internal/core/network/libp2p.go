package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

// GossipTopicPrefix prefixes the pubsub topic that carries a group's frames.
const GossipTopicPrefix = "/mcast-agent"

// Libp2pOptions configures the libp2p transport.
type Libp2pOptions struct {
	ListenAddrs     []string
	Bootstrap       []string
	Rendezvous      string
	EnableMDNS      bool
	IdentityKeyFile string
}

// Libp2pTransport carries wire frames as gossipsub messages, one pubsub
// topic per multicast group. It lets agents share a group across networks
// that do not route IP multicast.
type Libp2pTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	host host.Host
	ps   *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	sub    *pubsub.Subscription

	closeOnce sync.Once
}

func NewLibp2pTransport(parent context.Context, opts Libp2pOptions) (*Libp2pTransport, error) {
	ctx, cancel := context.WithCancel(parent)

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	libp2pOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("load identity key: %w", err)
		}
		libp2pOpts = append(libp2pOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	t := &Libp2pTransport{
		ctx:    ctx,
		cancel: cancel,
		host:   h,
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
	}

	if opts.EnableMDNS {
		service := mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{host: h})
		if err := service.Start(); err != nil {
			log.Warnf("mdns start error: %v", err)
		}
	}

	for _, raw := range opts.Bootstrap {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			log.Warnf("skip bootstrap addr %q: %v", raw, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Warnf("skip bootstrap addr %q: %v", raw, err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			log.Warnf("bootstrap connect failed %s: %v", info.ID, err)
		} else {
			log.Infof("connected bootstrap peer %s", info.ID)
		}
	}

	return t, nil
}

// GossipTopic names the pubsub topic used for group.
func GossipTopic(group Group) string {
	return GossipTopicPrefix + group.String()
}

func (t *Libp2pTransport) Join(_ context.Context, group Group) error {
	if group.IsZero() {
		return ErrInvalidGroup
	}
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	topic, err := t.getOrJoinTopic(GossipTopic(group))
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		if t.sub.Topic() == topic.String() {
			return nil
		}
		t.sub.Cancel()
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	t.sub = sub
	return nil
}

func (t *Libp2pTransport) Send(ctx context.Context, group Group, data []byte) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	topic, err := t.getOrJoinTopic(GossipTopic(group))
	if err != nil {
		return err
	}
	if err := topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish to %s: %w", group, err)
	}
	return nil
}

func (t *Libp2pTransport) Receive(ctx context.Context) (Datagram, error) {
	t.mu.Lock()
	sub := t.sub
	t.mu.Unlock()
	if sub == nil {
		if t.ctx.Err() != nil {
			return Datagram{}, ErrClosed
		}
		return Datagram{}, ErrNotJoined
	}
	msg, err := sub.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Datagram{}, ctx.Err()
		}
		if t.ctx.Err() != nil {
			return Datagram{}, ErrClosed
		}
		return Datagram{}, fmt.Errorf("gossip receive: %w", err)
	}
	return Datagram{Data: append([]byte(nil), msg.Data...), Source: msg.ReceivedFrom.String()}, nil
}

func (t *Libp2pTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.sub != nil {
			t.sub.Cancel()
			t.sub = nil
		}
		for _, topic := range t.topics {
			_ = topic.Close()
		}
		err = t.host.Close()
	})
	return err
}

func (t *Libp2pTransport) PeerID() string {
	return t.host.ID().String()
}

func (t *Libp2pTransport) ListenAddrs() []string {
	out := make([]string, 0, len(t.host.Addrs()))
	for _, addr := range t.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), t.host.ID().String()))
	}
	return out
}

func (t *Libp2pTransport) ConnectedPeers() []string {
	peers := t.host.Network().Peers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

func (t *Libp2pTransport) getOrJoinTopic(name string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if topic, ok := t.topics[name]; ok {
		return topic, nil
	}
	topic, err := t.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join gossip topic %s: %w", name, err)
	}
	t.topics[name] = topic
	return topic, nil
}

type mdnsNotifee struct {
	host host.Host
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(context.Background(), info); err != nil {
		log.Debugf("mdns connect failed %s: %v", info.ID, err)
	}
}

func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
