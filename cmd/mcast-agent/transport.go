package main

import (
	"context"
	"fmt"

	"Multicast-Agent/internal/config"
	"Multicast-Agent/internal/core/network"
)

func newTransport(ctx context.Context, cfg *config.Config) (network.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportUDP:
		opts, err := cfg.Transport.UDP.Options()
		if err != nil {
			return nil, err
		}
		tr, err := network.NewMulticastTransport(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open multicast transport: %w", err)
		}
		return tr, nil
	case config.TransportLibp2p:
		tr, err := network.NewLibp2pTransport(ctx, cfg.Transport.Libp2p.Options())
		if err != nil {
			return nil, fmt.Errorf("failed to start libp2p transport: %w", err)
		}
		log.Infof("Peer ID: %s", tr.PeerID())
		for _, addr := range tr.ListenAddrs() {
			log.Infof("Listening on: %s", addr)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("%w: transport kind %q", config.ErrInvalidConfig, cfg.Transport.Kind)
	}
}
