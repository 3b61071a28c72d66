package config

import (
	"fmt"
	"os"

	ma "github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"

	"p2pspace/internal/sync"
	"p2pspace/internal/wakusync"
)

// SyncLimits tunes the per-peer token buckets.
type SyncLimits struct {
	MessageBurst        int     `yaml:"messageBurst"`
	MessageRefillPerSec float64 `yaml:"messageRefillPerSec"`
	VerifyBurst         int     `yaml:"verifyBurst"`
	VerifyRefillPerSec  float64 `yaml:"verifyRefillPerSec"`
}

// Peers lists bootstrap hints for the gossip transport.
type Peers struct {
	Bootstrap []string `yaml:"bootstrap"`
}

// Config is the node configuration file.
type Config struct {
	DataDir    string     `yaml:"dataDir"`
	RPCAddr    string     `yaml:"rpcAddr"`
	Transport  string     `yaml:"transport"`
	Rooms      []string   `yaml:"rooms"`
	SyncLimits SyncLimits `yaml:"syncLimits"`
	Peers      Peers      `yaml:"peers"`
}

func Default() Config {
	return Config{
		DataDir:   "./data",
		RPCAddr:   "127.0.0.1:8787",
		Transport: wakusync.TransportMock,
		Rooms:     []string{"general"},
		SyncLimits: SyncLimits{
			MessageBurst:        sync.MessageBurst,
			MessageRefillPerSec: sync.MessageRefillPerSec,
			VerifyBurst:         sync.VerifyBurst,
			VerifyRefillPerSec:  sync.VerifyRefillPerSec,
		},
	}
}

// Load reads a YAML config over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Transport {
	case wakusync.TransportMock, wakusync.TransportGoWaku:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	for _, addr := range c.Peers.Bootstrap {
		if _, err := ma.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("bootstrap addr %q: %w", addr, err)
		}
	}
	if c.SyncLimits.MessageBurst < 0 || c.SyncLimits.VerifyBurst < 0 {
		return fmt.Errorf("sync limits must not be negative")
	}
	return nil
}

// Limits converts the configured limits to the sync package's form,
// falling back to defaults for unset values.
func (c Config) Limits() sync.Limits {
	l := sync.DefaultLimits()
	if c.SyncLimits.MessageBurst > 0 {
		l.MessageBurst = c.SyncLimits.MessageBurst
	}
	if c.SyncLimits.MessageRefillPerSec > 0 {
		l.MessageRefillPerSec = c.SyncLimits.MessageRefillPerSec
	}
	if c.SyncLimits.VerifyBurst > 0 {
		l.VerifyBurst = c.SyncLimits.VerifyBurst
	}
	if c.SyncLimits.VerifyRefillPerSec > 0 {
		l.VerifyRefillPerSec = c.SyncLimits.VerifyRefillPerSec
	}
	return l
}
