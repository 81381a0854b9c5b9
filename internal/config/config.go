// Package config loads the node's TOML configuration, mirroring the
// subset of fields spec.md §6 calls out as relevant to the swap core.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Healthcheck holds the peer-healthcheck tunables from spec.md §4.6/§6.
type Healthcheck struct {
	TimeoutSecs           int `toml:"timeout_secs"`
	MessageExpirationSecs int `toml:"message_expiration_secs"`
}

// Config is the subset of node configuration the swap core depends on.
// The RPC dispatcher, CLI and transport layers own the rest of the real
// config surface; it is out of scope here.
type Config struct {
	Passphrase     string      `toml:"passphrase"`
	NetID          uint16      `toml:"netid"`
	SeedNodes      []string    `toml:"seednodes"`
	IAmSeed        bool        `toml:"i_am_seed"`
	RPCPassword    string      `toml:"rpc_password"`
	RPCPort        uint16      `toml:"rpcport"`
	DBDir          string      `toml:"dbdir"`
	EnableHD       bool        `toml:"enable_hd"`
	StorageBackend string      `toml:"storage_backend"` // "kv" or "sql", per spec.md §4.5's two backends
	Healthcheck    Healthcheck `toml:"healthcheck"`

	// DefaultLockDuration is the HTLC lock time a swap falls back to when an
	// orderbook.Event doesn't carry its own negotiated LockDuration. Real
	// swap terms are negotiated per-match by the (Non-goal) orderbook layer;
	// this exists only as a floor for callers that omit it.
	DefaultLockDuration time.Duration `toml:"default_lock_duration_secs"`
}

// Default returns a Config with the documented defaults applied.
func Default() Config {
	return Config{
		NetID:               9999,
		DBDir:               "DB",
		EnableHD:            false,
		StorageBackend:      "kv",
		DefaultLockDuration: time.Hour,
		Healthcheck: Healthcheck{
			TimeoutSecs:           5,
			MessageExpirationSecs: 10,
		},
	}
}

// Load reads and parses a TOML config file, applying defaults first.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the invariants spec.md §6 states explicitly.
func (c Config) Validate() error {
	if c.Passphrase == "" {
		return fmt.Errorf("config: passphrase is required")
	}
	if c.NetID > 16000 {
		return fmt.Errorf("config: netid %d exceeds maximum of ~16000", c.NetID)
	}
	if c.StorageBackend != "kv" && c.StorageBackend != "sql" {
		return fmt.Errorf("config: storage_backend must be \"kv\" or \"sql\", got %q", c.StorageBackend)
	}
	return nil
}
