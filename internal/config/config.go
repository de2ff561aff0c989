// Package config loads the bridge configuration from a YAML file with
// TOPICBRIDGE_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/bridge"
	"github.com/SWAI-Ltd/topicbridge/internal/crypto"
	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/manager"
	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TOPICBRIDGE_"

// CryptoDir is where named certificates live by default.
const CryptoDir = "./scripts/crypto"

// Domain kinds.
const (
	DomainGossip = "gossip"
	DomainMemory = "memory"
)

// Topic is a statically configured bridge.
type Topic struct {
	Name   string `yaml:"topic_name"`
	Type   string `yaml:"topic_type"`
	Action string `yaml:"action"`
}

type Rendezvous struct {
	Addr          string        `yaml:"addr" env:"ADDR"`
	MDNS          bool          `yaml:"mdns" env:"MDNS"`
	LookupTimeout time.Duration `yaml:"lookup_timeout" env:"LOOKUP_TIMEOUT"`
}

type Retry struct {
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	MaxAttempts    uint          `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// Domain selects and tunes the local publish/subscribe domain.
type Domain struct {
	Kind             string        `yaml:"kind" env:"KIND"`
	ListenAddrs      []string      `yaml:"listen_addrs" env:"LISTEN_ADDRS"`
	Bootstrap        []string      `yaml:"bootstrap" env:"BOOTSTRAP"`
	MDNS             bool          `yaml:"mdns" env:"MDNS"`
	Rendezvous       string        `yaml:"rendezvous" env:"RENDEZVOUS"`
	IdentityKeyFile  string        `yaml:"identity_key_file" env:"IDENTITY_KEY_FILE"`
	CatalogTTL       time.Duration `yaml:"catalog_ttl" env:"CATALOG_TTL"`
	AnnounceInterval time.Duration `yaml:"announce_interval" env:"ANNOUNCE_INTERVAL"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Config is the complete bridge configuration.
type Config struct {
	CryptoName              string        `yaml:"crypto_name" env:"CRYPTO_NAME"`
	CertificatePath         string        `yaml:"certificate_path" env:"CERTIFICATE_PATH"`
	AutomaticTopicDiscovery bool          `yaml:"automatic_topic_discovery" env:"AUTOMATIC_TOPIC_DISCOVERY"`
	DiscoveryInterval       time.Duration `yaml:"discovery_interval" env:"DISCOVERY_INTERVAL"`
	Topics                  []Topic       `yaml:"topics"`

	Rendezvous Rendezvous     `yaml:"rendezvous" envPrefix:"RENDEZVOUS_"`
	Retry      Retry          `yaml:"retry" envPrefix:"RETRY_"`
	Domain     Domain         `yaml:"domain" envPrefix:"DOMAIN_"`
	Log        logging.Config `yaml:"log" envPrefix:"LOG_"`
	Metrics    Metrics        `yaml:"metrics" envPrefix:"METRICS_"`
}

// Default returns the configuration used for anything the file and
// environment leave unset.
func Default() Config {
	return Config{
		AutomaticTopicDiscovery: true,
		DiscoveryInterval:       5 * time.Second,
		Rendezvous:              Rendezvous{LookupTimeout: 5 * time.Second},
		Retry:                   Retry{AttemptTimeout: bridge.DefaultAttemptTimeout},
		Domain: Domain{
			Kind:             DomainGossip,
			MDNS:             true,
			Rendezvous:       "topicbridge",
			CatalogTTL:       30 * time.Second,
			AnnounceInterval: 10 * time.Second,
		},
		Log: logging.Config{Level: "info", Format: "text"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, not just the first.
func (c Config) Validate() error {
	var err error
	if c.CertificatePath == "" && c.CryptoName == "" {
		err = multierr.Append(err, errors.New("crypto_name or certificate_path is required"))
	}
	for i, t := range c.Topics {
		if t.Name == "" {
			err = multierr.Append(err, fmt.Errorf("topics[%d]: topic_name is required", i))
		}
		if _, perr := bridge.ParseAction(t.Action); perr != nil {
			err = multierr.Append(err, fmt.Errorf("topics[%d]: %w", i, perr))
		}
	}
	if c.AutomaticTopicDiscovery && c.DiscoveryInterval <= 0 {
		err = multierr.Append(err, errors.New("discovery_interval must be positive"))
	}
	if c.Retry.AttemptTimeout <= 0 {
		err = multierr.Append(err, errors.New("retry.attempt_timeout must be positive"))
	}
	if c.Rendezvous.Addr == "" && !c.Rendezvous.MDNS {
		err = multierr.Append(err, errors.New("rendezvous.addr is required unless rendezvous.mdns is set"))
	}
	if c.Rendezvous.MDNS && c.Rendezvous.LookupTimeout <= 0 {
		err = multierr.Append(err, errors.New("rendezvous.lookup_timeout must be positive"))
	}
	switch c.Domain.Kind {
	case DomainGossip:
		if c.Domain.CatalogTTL <= 0 || c.Domain.AnnounceInterval <= 0 {
			err = multierr.Append(err, errors.New("domain.catalog_ttl and domain.announce_interval must be positive"))
		}
	case DomainMemory:
	default:
		err = multierr.Append(err, fmt.Errorf("domain.kind %q: want %s or %s", c.Domain.Kind, DomainGossip, DomainMemory))
	}
	if _, lerr := logging.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Certificate returns the identity file path: the explicit path if set,
// otherwise the per-name default under CryptoDir.
func (c Config) Certificate() string {
	if c.CertificatePath != "" {
		return c.CertificatePath
	}
	return crypto.CertificatePath(CryptoDir, c.CryptoName)
}

// ConfiguredTopics converts the configured topics for the manager.
func (c Config) ConfiguredTopics() ([]manager.ConfiguredTopic, error) {
	out := make([]manager.ConfiguredTopic, 0, len(c.Topics))
	for _, t := range c.Topics {
		a, err := bridge.ParseAction(t.Action)
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", t.Name, err)
		}
		out = append(out, manager.ConfiguredTopic{
			Topic:  bridge.TopicDescriptor{Name: t.Name, Type: t.Type},
			Action: a,
		})
	}
	return out, nil
}

// RetryPolicy builds the connector policy.
func (c Config) RetryPolicy() bridge.RetryPolicy {
	return bridge.RetryPolicy{AttemptTimeout: c.Retry.AttemptTimeout, MaxAttempts: c.Retry.MaxAttempts}
}
