package app

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"satwallet/internal/crypto"
	"satwallet/internal/domain"
	"satwallet/internal/gate"
	"satwallet/internal/handlers"
)

// ConfigFilename is the name of the config file inside the home directory.
const ConfigFilename = "config.toml"

// Duration is a time.Duration that reads "2m"-style strings from TOML.
type Duration struct{ time.Duration }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Config holds runtime wiring options for building the app.
type Config struct {
	Home             string         `toml:"-"`                // config directory, e.g. $HOME/.satwallet
	Network          domain.Network `toml:"Network"`          // mainnet or testnet
	ListenAddress    string         `toml:"ListenAddress"`    // bridge HTTP listener
	AllowedOrigins   []string       `toml:"AllowedOrigins"`   // websocket origin patterns
	MigrationOrigins []string       `toml:"MigrationOrigins"` // origins allowed to hand over keys
	PromptTimeout    Duration       `toml:"PromptTimeout"`
	KDFIterations    int            `toml:"KDFIterations"`
	FeeRate          uint64         `toml:"FeeRate"`      // satoshis per kilobyte
	BroadcastURL     string         `toml:"BroadcastURL"` // WhatsOnChain-compatible API base
	TradeDB          string         `toml:"TradeDB"`      // sqlite path; "memory" keeps trades in process
	LogLevel         string         `toml:"LogLevel"`     // debug, info, warn, error or production
	LogFile          string         `toml:"LogFile"`      // rotated JSON log; empty logs to stderr
	HTTP             *http.Client   `toml:"-"`            // optional; defaults to a client with a timeout
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig(home string) Config {
	return Config{
		Home:          home,
		Network:       domain.Mainnet,
		ListenAddress: "127.0.0.1:8788",
		PromptTimeout: Duration{gate.DefaultPromptTimeout},
		KDFIterations: crypto.DefaultIterations,
		FeeRate:       handlers.DefaultFeeRate,
		TradeDB:       "trades.db",
		LogLevel:      "info",
	}
}

// LoadConfig reads <home>/config.toml, writing the defaults there when it
// does not exist yet.
func LoadConfig(home string) (Config, error) {
	cfg := DefaultConfig(home)
	path := filepath.Join(home, ConfigFilename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, writeDefault(path, cfg)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Home = home
	return cfg, cfg.normalize()
}

func (c *Config) normalize() error {
	switch domain.Network(strings.ToLower(string(c.Network))) {
	case "", domain.Mainnet:
		c.Network = domain.Mainnet
	case domain.Testnet:
		c.Network = domain.Testnet
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if c.PromptTimeout.Duration <= 0 {
		c.PromptTimeout.Duration = gate.DefaultPromptTimeout
	}
	if c.KDFIterations == 0 {
		c.KDFIterations = crypto.DefaultIterations
	}
	if c.KDFIterations < crypto.MinIterations {
		return fmt.Errorf("KDFIterations must be at least %d", crypto.MinIterations)
	}
	if c.FeeRate == 0 {
		c.FeeRate = handlers.DefaultFeeRate
	}
	if c.FeeRate > handlers.MaxFeeRate {
		return fmt.Errorf("FeeRate must be at most %d", handlers.MaxFeeRate)
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = "127.0.0.1:8788"
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{}
	}
	if c.MigrationOrigins == nil {
		c.MigrationOrigins = []string{}
	}
	return nil
}

// TradeDSN resolves TradeDB against the home directory. Empty means the
// in-memory store.
func (c Config) TradeDSN() string {
	switch db := strings.TrimSpace(c.TradeDB); {
	case db == "" || db == "memory":
		return ""
	case filepath.IsAbs(db) || strings.HasPrefix(db, "file:"):
		return db
	default:
		return filepath.Join(c.Home, db)
	}
}

// LogPath resolves LogFile against the home directory.
func (c Config) LogPath() string {
	f := strings.TrimSpace(c.LogFile)
	if f == "" || filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(c.Home, f)
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
