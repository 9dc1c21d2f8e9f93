// Package config loads proxy and payout daemon configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables named POOLPROXY_<SECTION>_<KEY> (for example
// POOLPROXY_RPC_PASS). Variables may also come from a .env file; the real
// environment wins over it.
package config

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/poolproxy/pkg/logging"
	"github.com/NicolasHaas/poolproxy/pkg/payout"
	"github.com/NicolasHaas/poolproxy/pkg/proxy"
	"github.com/NicolasHaas/poolproxy/pkg/rpc"
	"github.com/NicolasHaas/poolproxy/pkg/stratum"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POOLPROXY_"

// zcashPowLimit is the Zcash mainnet proof-of-work limit, the target of a
// difficulty-1 share.
const zcashPowLimit = "0007ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

// Config holds all application configuration.
type Config struct {
	Proxy  ProxyConfig  `yaml:"proxy"`
	Share  ShareConfig  `yaml:"share"`
	Payout PayoutConfig `yaml:"payout"`
	RPC    RPCConfig    `yaml:"rpc"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// ProxyConfig configures the stratum relay.
type ProxyConfig struct {
	Listen            string        `yaml:"listen"`
	Upstream          string        `yaml:"upstream"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReadBuffer        int           `yaml:"read_buffer"`
	MaxPendingSubmits int           `yaml:"max_pending_submits"`
	StrictFraming     bool          `yaml:"strict_framing"`
	Metrics           string        `yaml:"metrics"`
}

// ShareConfig configures share valuation. Decimal and hex values are kept
// as text so they round-trip exactly.
type ShareConfig struct {
	BlockReward string        `yaml:"block_reward"`
	Diff1Target string        `yaml:"diff1_target"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PayoutConfig configures the payout daemon.
type PayoutConfig struct {
	Interval         time.Duration `yaml:"interval"`
	SendingFee       string        `yaml:"sending_fee"`
	MinConfirmations int           `yaml:"min_confirmations"`
	SourceAddress    string        `yaml:"source_address"`
	FindLimit        int           `yaml:"find_limit"`
}

// RPCConfig locates the coin daemon.
type RPCConfig struct {
	Host        string `yaml:"host"`
	User        string `yaml:"user"`
	Pass        string `yaml:"pass"`
	TLS         bool   `yaml:"tls"`
	MaxInFlight int    `yaml:"max_in_flight"` // concurrent daemon requests, including hung ones
}

// StoreConfig locates the payout database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	p := proxy.DefaultConfig()
	return &Config{
		Proxy: ProxyConfig{
			Listen:            p.ListenAddr,
			Upstream:          p.UpstreamAddr,
			DialTimeout:       p.DialTimeout,
			ReadBuffer:        p.ReadBuffer,
			MaxPendingSubmits: p.MaxPendingSubmits,
			StrictFraming:     p.StrictFraming,
			Metrics:           p.MetricsAddr,
		},
		Share: ShareConfig{
			BlockReward: "3.125",
			Diff1Target: zcashPowLimit,
			Timeout:     30 * time.Second,
		},
		Payout: PayoutConfig{
			Interval:         150 * time.Second,
			SendingFee:       "0.0001",
			MinConfirmations: 1,
			FindLimit:        1000,
		},
		RPC: RPCConfig{
			Host:        "127.0.0.1:8232",
			MaxInFlight: rpc.DefaultMaxInFlight,
		},
		Store: StoreConfig{Path: "payouts.db"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the effective configuration from defaults, the YAML file at
// path, the .env file at envFile and the process environment, in that
// order. Empty paths and a missing .env file are skipped.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // path from command line
	if err != nil {
		return fmt.Errorf("config: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	if c.Proxy.Listen == "" {
		return fmt.Errorf("proxy.listen cannot be empty")
	}
	if c.Proxy.Upstream == "" {
		return fmt.Errorf("proxy.upstream cannot be empty")
	}
	if c.Proxy.DialTimeout <= 0 {
		return fmt.Errorf("proxy.dial_timeout must be > 0")
	}
	if c.Proxy.ReadBuffer <= 0 {
		return fmt.Errorf("proxy.read_buffer must be > 0")
	}
	if c.Proxy.MaxPendingSubmits < 0 {
		return fmt.Errorf("proxy.max_pending_submits must be >= 0")
	}
	if _, err := c.ShareParams(); err != nil {
		return err
	}
	if c.Share.Timeout <= 0 {
		return fmt.Errorf("share.timeout must be > 0")
	}
	if _, err := c.DaemonConfig(); err != nil {
		return err
	}
	if c.Payout.Interval <= 0 {
		return fmt.Errorf("payout.interval must be > 0")
	}
	if c.Payout.MinConfirmations < 0 {
		return fmt.Errorf("payout.min_confirmations must be >= 0")
	}
	if c.Payout.FindLimit < 0 {
		return fmt.Errorf("payout.find_limit must be >= 0")
	}
	if c.RPC.MaxInFlight <= 0 {
		return fmt.Errorf("rpc.max_in_flight must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if err := logging.Validate(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	return nil
}

// ProxyServer returns the relay configuration.
func (c *Config) ProxyServer() proxy.Config {
	p := proxy.DefaultConfig()
	p.ListenAddr = c.Proxy.Listen
	p.UpstreamAddr = c.Proxy.Upstream
	p.DialTimeout = c.Proxy.DialTimeout
	p.ReadBuffer = c.Proxy.ReadBuffer
	p.MaxPendingSubmits = c.Proxy.MaxPendingSubmits
	p.StrictFraming = c.Proxy.StrictFraming
	p.MetricsAddr = c.Proxy.Metrics
	return p
}

// ShareParams parses the share valuation constants.
func (c *Config) ShareParams() (payout.ShareParams, error) {
	reward, err := decimal.NewFromString(strings.TrimSpace(c.Share.BlockReward))
	if err != nil {
		return payout.ShareParams{}, fmt.Errorf("share.block_reward: %w", err)
	}
	if !reward.IsPositive() {
		return payout.ShareParams{}, fmt.Errorf("share.block_reward must be > 0")
	}
	diff1, err := stratum.ParseTarget(c.Share.Diff1Target)
	if err != nil {
		return payout.ShareParams{}, fmt.Errorf("share.diff1_target: %w", err)
	}
	if diff1.Cmp(big.NewInt(0)) <= 0 {
		return payout.ShareParams{}, fmt.Errorf("share.diff1_target must be > 0")
	}
	return payout.ShareParams{BlockReward: reward, Diff1Target: diff1}, nil
}

// DaemonConfig returns the payout daemon configuration.
func (c *Config) DaemonConfig() (payout.DaemonConfig, error) {
	fee, err := decimal.NewFromString(strings.TrimSpace(c.Payout.SendingFee))
	if err != nil {
		return payout.DaemonConfig{}, fmt.Errorf("payout.sending_fee: %w", err)
	}
	if fee.IsNegative() {
		return payout.DaemonConfig{}, fmt.Errorf("payout.sending_fee must be >= 0")
	}
	return payout.DaemonConfig{
		Interval:         c.Payout.Interval,
		SendingFee:       fee,
		MinConfirmations: c.Payout.MinConfirmations,
		FindLimit:        c.Payout.FindLimit,
	}, nil
}

// RPCClient returns the coin daemon client configuration.
func (c *Config) RPCClient() rpc.Config {
	return rpc.Config{
		Host:        c.RPC.Host,
		User:        c.RPC.User,
		Pass:        c.RPC.Pass,
		TLS:         c.RPC.TLS,
		MaxInFlight: c.RPC.MaxInFlight,
	}
}

// Logging returns the logging options for this configuration.
func (c *Config) Logging(out io.Writer) logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format, Output: out}
}
