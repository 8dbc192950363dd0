// Package config holds the ghostchat configuration: device identity, store
// backend selection, media limits and player choice. The file lives at
// ~/.ghostchat/config.yaml unless overridden with --config.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"ghostchat/internal/codec"
)

// Config is the root configuration.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Identity IdentityConfig `yaml:"identity"`
	Store    StoreConfig    `yaml:"store"`
	Media    MediaConfig    `yaml:"media"`
	Player   PlayerConfig   `yaml:"player"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"logLevel"` // debug | info | warn | error
	DataDir  string `yaml:"dataDir"`
}

// IdentityConfig is the stable per-device identity stamped on every outgoing
// message. Generated once at init and never rotated; rotating it would make
// the device's own history render as a stranger's.
type IdentityConfig struct {
	DeviceID string `yaml:"deviceId"`
}

type StoreConfig struct {
	// Backend is one of "sqlite", "firestore", "redis".
	Backend   string          `yaml:"backend"`
	SQLite    SQLiteConfig    `yaml:"sqlite,omitempty"`
	Firestore FirestoreConfig `yaml:"firestore,omitempty"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type FirestoreConfig struct {
	ProjectID       string `yaml:"projectId"`
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

type MediaConfig struct {
	// MaxPayloadBytes caps raw media before encoding. 0 selects the codec
	// default (300 KiB).
	MaxPayloadBytes int    `yaml:"maxPayloadBytes,omitempty"`
	TempDir         string `yaml:"tempDir,omitempty"`
}

type PlayerConfig struct {
	// Command names the audio player binary; empty autodetects.
	Command string `yaml:"command,omitempty"`
}

// DefaultConfigDir returns ~/.ghostchat.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ghostchat"
	}
	return filepath.Join(home, ".ghostchat")
}

// DefaultConfigPath returns ~/.ghostchat/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Defaults builds a ready-to-use local configuration with a fresh device
// identity.
func Defaults() *Config {
	dir := DefaultConfigDir()
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  dir,
		},
		Identity: IdentityConfig{
			DeviceID: uuid.NewString(),
		},
		Store: StoreConfig{
			Backend: "sqlite",
			SQLite:  SQLiteConfig{Path: filepath.Join(dir, "ghostchat.db")},
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Media: MediaConfig{
			MaxPayloadBytes: codec.DefaultMaxPayloadBytes,
		},
	}
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config with owner-only permissions (it may hold a Redis
// password).
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the parts every command depends on.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "firestore", "redis":
	case "":
		return fmt.Errorf("store.backend is required")
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "firestore" && c.Store.Firestore.ProjectID == "" {
		return fmt.Errorf("store.firestore.projectId is required for the firestore backend")
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store.redis.addr is required for the redis backend")
	}
	if c.Identity.DeviceID == "" {
		return fmt.Errorf("identity.deviceId is required (run init)")
	}
	return nil
}

// SlogLevel maps the configured level name onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.General.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
