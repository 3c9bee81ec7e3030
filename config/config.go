// Package config loads and validates the facilitator configuration from
// YAML. Per-network sections become explicit structs validated at load
// time, so a missing credential or fee table fails startup instead of a
// request deep in settlement.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vitwit/x402-tron-facilitator/secrets"
	"github.com/vitwit/x402-tron-facilitator/types"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" validate:"required"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Logging    LoggingConfig    `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Settlement SettlementConfig `yaml:"settlement"`

	// Networks maps network identifiers ("tron:nile") to their config.
	Networks map[string]NetworkConfig `yaml:"networks" validate:"required,min=1,dive"`
}

type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

type MonitoringConfig struct {
	// Port serves /metrics; 0 disables the listener.
	Port int `yaml:"port" validate:"min=0,max=65535"`
}

type DatabaseConfig struct {
	// URL is a Postgres DSN; empty selects the in-memory record store.
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxLifeTime  int    `yaml:"max_life_time"`
}

type RedisConfig struct {
	// Addr is host:port; empty disables the Redis record store.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `yaml:"topic" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type RateLimitConfig struct {
	// Requests per minute per caller; 0 disables the tier.
	Authenticated int `yaml:"authenticated"`
	Anonymous     int `yaml:"anonymous"`

	// APIKeys lists keys granted the authenticated tier.
	APIKeys []string `yaml:"api_keys"`
}

type SettlementConfig struct {
	RetryFailed  bool          `yaml:"retry_failed"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollBudget   int           `yaml:"poll_budget"`
}

// NetworkConfig is one network's registration: chain access, signing
// credential and fee policy.
type NetworkConfig struct {
	RPCUrl string `yaml:"rpc_url" validate:"required,url"`

	// APIKey is the TronGrid API key, possibly a secret reference.
	APIKey string `yaml:"api_key"`

	// PrivateKey is the facilitator signing credential, usually a secret
	// reference such as "env:TRON_NILE_PRIVATE_KEY".
	PrivateKey string `yaml:"private_key" validate:"required"`

	// FeeRecipient receives facilitator fees.
	FeeRecipient string `yaml:"fee_recipient" validate:"required"`

	// BaseFees maps asset address to fee in atomic units.
	BaseFees map[string]string `yaml:"base_fees"`

	// FeeLimit caps broadcast cost in sun; 0 uses the client default.
	FeeLimit int64 `yaml:"fee_limit"`
}

var validate = validator.New()

// Load reads, resolves and validates a config file. Secret references in
// credential fields are resolved through the resolver; validation runs on
// the resolved result so a broken reference fails fast.
func Load(path string, resolver secrets.Resolver) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data, resolver)
}

// Parse is Load without the file read, for tests.
func Parse(data []byte, resolver secrets.Resolver) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if resolver == nil {
		resolver = secrets.EnvResolver{}
	}
	for name, network := range cfg.Networks {
		if !types.Network(name).IsTron() || types.Network(name).ChainID() == 0 {
			return nil, fmt.Errorf("unknown network %q in config", name)
		}

		key, err := resolver.Resolve(network.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("network %s: failed to resolve private key: %w", name, err)
		}
		network.PrivateKey = key

		apiKey, err := resolver.Resolve(network.APIKey)
		if err != nil {
			return nil, fmt.Errorf("network %s: failed to resolve api key: %w", name, err)
		}
		network.APIKey = apiKey
		cfg.Networks[name] = network
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Network returns the config for a network identifier.
func (c *Config) Network(network types.Network) (NetworkConfig, bool) {
	nc, ok := c.Networks[network.String()]
	return nc, ok
}
