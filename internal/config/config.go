// Package config provides configuration management for the multicast agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"Multicast-Agent/internal/agent"
	"Multicast-Agent/internal/core/network"
)

const (
	TransportUDP    = "udp"
	TransportLibp2p = "libp2p"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config represents the agent configuration file.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
}

// AgentConfig describes the agent's identity, group and topics.
type AgentConfig struct {
	Name       string   `yaml:"name"`
	Group      string   `yaml:"group"` // e.g. /ip4/224.0.0.3/udp/8888
	Topics     []string `yaml:"topics"`
	Unresolved string   `yaml:"unresolved"` // "deliver" or "drop"
}

type TransportConfig struct {
	Kind   string       `yaml:"kind"` // "udp" or "libp2p"
	UDP    UDPConfig    `yaml:"udp"`
	Libp2p Libp2pConfig `yaml:"libp2p"`
}

type UDPConfig struct {
	Interface    string `yaml:"interface"`
	TTL          int    `yaml:"ttl"`
	Loopback     bool   `yaml:"loopback"`
	PollInterval string `yaml:"poll_interval"`
	ReadBuffer   int    `yaml:"read_buffer"`
}

type Libp2pConfig struct {
	Listen          []string `yaml:"listen"`
	Bootstrap       []string `yaml:"bootstrap"`
	Rendezvous      string   `yaml:"rendezvous"`
	EnableMDNS      bool     `yaml:"enable_mdns"`
	IdentityKeyFile string   `yaml:"identity_key_file"`
}

// APIConfig controls the HTTP control surface. An empty Listen disables it.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "color", "nocolor" or "json"
}

// Default returns a default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Agent: AgentConfig{
			Group:      "/ip4/224.0.0.3/udp/8888",
			Topics:     []string{"/topic/a"},
			Unresolved: agent.DeliverUnresolved.String(),
		},
		Transport: TransportConfig{
			Kind: TransportUDP,
			UDP: UDPConfig{
				TTL:          1,
				Loopback:     true,
				PollInterval: "250ms",
			},
			Libp2p: Libp2pConfig{
				Listen:          []string{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"},
				Bootstrap:       []string{},
				Rendezvous:      "mcast-agent",
				EnableMDNS:      true,
				IdentityKeyFile: filepath.Join(homeDir, ".mcast-agent", "identity.key"),
			},
		},
		API: APIConfig{
			Listen: "127.0.0.1:8090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "color",
		},
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".mcast-agent", "config.yaml")
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks every field that is parsed later on.
func (c *Config) Validate() error {
	if _, err := c.Group(); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	switch c.Transport.Kind {
	case TransportUDP:
		if _, err := c.Transport.UDP.Options(); err != nil {
			return err
		}
	case TransportLibp2p:
	default:
		return fmt.Errorf("%w: transport kind %q", ErrInvalidConfig, c.Transport.Kind)
	}
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "", "color", "nocolor", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	for _, name := range c.Agent.Topics {
		if name == "" {
			return fmt.Errorf("%w: empty topic name", ErrInvalidConfig)
		}
	}
	return nil
}

// Group parses the configured multicast group.
func (c *Config) Group() (network.Group, error) {
	g, err := network.ParseGroup(c.Agent.Group)
	if err != nil {
		return network.Group{}, fmt.Errorf("%w: agent.group: %w", ErrInvalidConfig, err)
	}
	return g, nil
}

func (c *Config) Policy() (agent.UnresolvedPolicy, error) {
	p, err := agent.ParseUnresolvedPolicy(c.Agent.Unresolved)
	if err != nil {
		return 0, fmt.Errorf("%w: agent.unresolved %q", ErrInvalidConfig, c.Agent.Unresolved)
	}
	return p, nil
}

// Options converts the section into transport options.
func (u UDPConfig) Options() (network.MulticastOptions, error) {
	opts := network.MulticastOptions{
		Interface:  u.Interface,
		TTL:        u.TTL,
		Loopback:   u.Loopback,
		ReadBuffer: u.ReadBuffer,
	}
	if u.PollInterval != "" {
		d, err := time.ParseDuration(u.PollInterval)
		if err != nil || d <= 0 {
			return opts, fmt.Errorf("%w: transport.udp.poll_interval %q", ErrInvalidConfig, u.PollInterval)
		}
		opts.PollInterval = d
	}
	if u.TTL < 0 || u.TTL > 255 {
		return opts, fmt.Errorf("%w: transport.udp.ttl %d", ErrInvalidConfig, u.TTL)
	}
	return opts, nil
}

func (l Libp2pConfig) Options() network.Libp2pOptions {
	return network.Libp2pOptions{
		ListenAddrs:     l.Listen,
		Bootstrap:       l.Bootstrap,
		Rendezvous:      l.Rendezvous,
		EnableMDNS:      l.EnableMDNS,
		IdentityKeyFile: l.IdentityKeyFile,
	}
}
