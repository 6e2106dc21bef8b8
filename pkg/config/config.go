package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncMode controls when WAL writes are flushed to stable storage.
type SyncMode string

const (
	// SyncImmediate fsyncs after every append. Safest, slowest.
	SyncImmediate SyncMode = "immediate"
	// SyncBatch fsyncs on commit boundaries only.
	SyncBatch SyncMode = "batch"
	// SyncNone never fsyncs the WAL. Data loss on crash is possible.
	SyncNone SyncMode = "none"
)

// Config holds engine configuration. Zero values are filled in by
// Default; Validate rejects out-of-range settings before the engine
// opens any file.
type Config struct {
	// DataDir is the root directory for collection files, WAL files,
	// and the version store.
	DataDir string `yaml:"data_dir"`

	// EncryptionKeyHex is an optional hex-encoded 32-byte key enabling
	// AES-256-GCM encryption of collection files at rest. Mutually
	// exclusive with EncryptionPassphrase.
	EncryptionKeyHex string `yaml:"encryption_key_hex"`

	// EncryptionPassphrase derives a 32-byte key via SHA-256 when set.
	EncryptionPassphrase string `yaml:"encryption_passphrase"`

	// WALEnabled turns write-ahead logging on or off. With the WAL off
	// the engine still persists atomically but loses point-in-time
	// recovery granularity.
	WALEnabled bool `yaml:"wal_enabled"`

	// WALSyncMode selects the fsync policy for WAL appends.
	WALSyncMode SyncMode `yaml:"wal_sync_mode"`

	// UndeleteWindow is how long after a soft delete a document may be
	// restored.
	UndeleteWindow time.Duration `yaml:"-"`

	// TTL is how long a soft-deleted document survives before a sweep
	// physically purges it.
	TTL time.Duration `yaml:"-"`

	// LockTimeout bounds per-document lock acquisition.
	LockTimeout time.Duration `yaml:"-"`

	// RetainVersionsOnPurge keeps version history when a document is
	// physically purged.
	RetainVersionsOnPurge bool `yaml:"retain_versions_on_purge"`
}

// fileDurations carries the duration fields as strings so YAML files
// can use forms like "24h" or "30m".
type fileDurations struct {
	UndeleteWindow string `yaml:"undelete_window"`
	TTL            string `yaml:"ttl"`
	LockTimeout    string `yaml:"lock_timeout"`
}

// Default returns the engine defaults.
func Default() Config {
	return Config{
		DataDir:        "data",
		WALEnabled:     true,
		WALSyncMode:    SyncImmediate,
		UndeleteWindow: 24 * time.Hour,
		TTL:            7 * 24 * time.Hour,
		LockTimeout:    5 * time.Second,
	}
}

// Load reads a YAML config file, applying defaults for unset fields.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	var durs fileDurations
	if err := yaml.Unmarshal(data, &durs); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := applyDuration(&cfg.UndeleteWindow, "undelete_window", durs.UndeleteWindow); err != nil {
		return cfg, err
	}
	if err := applyDuration(&cfg.TTL, "ttl", durs.TTL); err != nil {
		return cfg, err
	}
	if err := applyDuration(&cfg.LockTimeout, "lock_timeout", durs.LockTimeout); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDuration(dst *time.Duration, name, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

// Validate checks the configuration for inconsistent settings.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.EncryptionKeyHex != "" && c.EncryptionPassphrase != "" {
		return fmt.Errorf("encryption_key_hex and encryption_passphrase are mutually exclusive")
	}
	if c.EncryptionKeyHex != "" {
		key, err := hex.DecodeString(c.EncryptionKeyHex)
		if err != nil {
			return fmt.Errorf("encryption_key_hex is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
		}
	}
	switch c.WALSyncMode {
	case SyncImmediate, SyncBatch, SyncNone, "":
	default:
		return fmt.Errorf("unknown wal_sync_mode: %q", c.WALSyncMode)
	}
	if c.UndeleteWindow < 0 || c.TTL < 0 || c.LockTimeout < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if c.UndeleteWindow > c.TTL && c.TTL > 0 {
		return fmt.Errorf("undelete_window (%s) cannot exceed ttl (%s)", c.UndeleteWindow, c.TTL)
	}
	return nil
}

// EncryptionKey returns the 32-byte AES key, or nil when encryption is
// disabled.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.EncryptionKeyHex != "" {
		key, err := hex.DecodeString(c.EncryptionKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		return key, nil
	}
	if c.EncryptionPassphrase != "" {
		return DeriveKey(c.EncryptionPassphrase), nil
	}
	return nil, nil
}
