// Package config loads service configuration from an optional YAML file, a
// .env file and the environment.
//
// Environment variables use the X402_ prefix with dots replaced by
// underscores (X402_SERVER_PORT, X402_REPLAY_DRIVER). The names used by
// earlier deployments are still honored: PORT, SERVER_ADDRESS, PRICE_USD,
// NETWORK, GEMINI_API_KEY and OPENAI_API_KEY.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	x402 "github.com/x402-foundation/x402-summarizer"
	"github.com/x402-foundation/x402-summarizer/events"
	"github.com/x402-foundation/x402-summarizer/replay"
	"github.com/x402-foundation/x402-summarizer/summarizer"
	"github.com/x402-foundation/x402-summarizer/telemetry"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "X402"

// Config is the full service configuration
type Config struct {
	Server        ServerConfig            `mapstructure:"server"`
	MCP           MCPConfig               `mapstructure:"mcp"`
	Log           LogConfig               `mapstructure:"log"`
	Gateway       GatewayConfig           `mapstructure:"gateway"`
	DefaultPolicy PolicyConfig            `mapstructure:"default_policy"`
	Policies      []PolicyConfig          `mapstructure:"policies"`
	Ledgers       []LedgerConfig          `mapstructure:"ledgers"`
	Replay        replay.Config           `mapstructure:"replay"`
	Summarizer    summarizer.Config       `mapstructure:"summarizer"`
	Events        EventsConfig            `mapstructure:"events"`
	Tracing       telemetry.TracingConfig `mapstructure:"tracing"`
	Paywall       PaywallConfig           `mapstructure:"paywall"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Framework is "gin" or "echo".
	Framework       string        `mapstructure:"framework"`
	RetryAfter      time.Duration `mapstructure:"retry_after"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Metrics         bool          `mapstructure:"metrics"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MCPConfig configures the MCP listener
type MCPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Transport is "sse" or "streamable".
	Transport string `mapstructure:"transport"`
}

// Addr returns the listen address
func (m MCPConfig) Addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// GatewayConfig tunes the payment gateway
type GatewayConfig struct {
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	// PruneInterval is how often expired replay records are removed when the
	// replay store has a retention.
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// EventsConfig enables the NATS publisher
type EventsConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	events.Config `mapstructure:",squash"`
}

// PaywallConfig brands the browser paywall
type PaywallConfig struct {
	AppName string `mapstructure:"app_name"`
	AppLogo string `mapstructure:"app_logo"`
}

// Load reads configuration. path may be empty, in which case
// x402-summarizer.yaml is looked up in the working directory and ~/.x402.
// A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("x402-summarizer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.x402")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return Decode(v)
}

// LoadDotEnv loads environment variables from the given files. Missing files
// are skipped and variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// New returns a viper instance with defaults and environment bindings
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.framework", "gin")
	v.SetDefault("server.retry_after", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("mcp.host", "")
	v.SetDefault("mcp.port", 3002)
	v.SetDefault("mcp.transport", "sse")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("gateway.verify_timeout", 15*time.Second)
	v.SetDefault("gateway.prune_interval", time.Hour)

	v.SetDefault("default_policy.resource", "summarize")
	v.SetDefault("default_policy.network", "sei-testnet")
	v.SetDefault("default_policy.price", "0.01")
	v.SetDefault("default_policy.asset", "USDC")
	v.SetDefault("default_policy.description", "Summarize text into 3-5 bullet points")

	v.SetDefault("replay.driver", "memory")
	v.SetDefault("replay.key_prefix", "x402:consumed:")
	v.SetDefault("replay.path", "")
	v.SetDefault("replay.url", "")
	v.SetDefault("replay.redis_addr", "localhost:6379")
	v.SetDefault("replay.redis_password", "")
	v.SetDefault("replay.redis_db", 0)
	v.SetDefault("replay.retention", time.Duration(0))

	v.SetDefault("summarizer.base_url", summarizer.DefaultBaseURL)
	v.SetDefault("summarizer.model", summarizer.DefaultModel)
	v.SetDefault("summarizer.max_tokens", 512)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.subject", events.SubjectConsumed)
	v.SetDefault("events.failure_subject", events.SubjectDownstreamFailure)

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.service_name", "x402-summarizer")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.pretty_print", false)

	v.SetDefault("paywall.app_name", "x402 Summarizer")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used before the X402_ prefix existed.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("default_policy.recipient", EnvPrefix+"_DEFAULT_POLICY_RECIPIENT", "SERVER_ADDRESS")
	_ = v.BindEnv("default_policy.price", EnvPrefix+"_DEFAULT_POLICY_PRICE", "PRICE_USD")
	_ = v.BindEnv("default_policy.network", EnvPrefix+"_DEFAULT_POLICY_NETWORK", "NETWORK")
	_ = v.BindEnv("summarizer.api_key", EnvPrefix+"_SUMMARIZER_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("events.url", EnvPrefix+"_EVENTS_URL", "NATS_URL")

	return v
}

// Decode validates the policy list against the policy schema and decodes v
func Decode(v *viper.Viper) (*Config, error) {
	if raw := v.Get("policies"); raw != nil {
		if err := ValidatePolicies(raw); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Policies) == 0 {
		cfg.Policies = []PolicyConfig{cfg.DefaultPolicy}
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration that decoding cannot
func (c *Config) Validate() error {
	switch c.Server.Framework {
	case "gin", "echo":
	default:
		return fmt.Errorf("server.framework must be gin or echo, got %q", c.Server.Framework)
	}
	switch c.MCP.Transport {
	case "sse", "streamable":
	default:
		return fmt.Errorf("mcp.transport must be sse or streamable, got %q", c.MCP.Transport)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := c.PricePolicies(); err != nil {
		return err
	}
	return nil
}

// PricePolicies converts the configured policies
func (c *Config) PricePolicies() ([]x402.PricePolicy, error) {
	out := make([]x402.PricePolicy, 0, len(c.Policies))
	for i, p := range c.Policies {
		policy, err := p.PricePolicy()
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		out = append(out, policy)
	}
	return out, nil
}
