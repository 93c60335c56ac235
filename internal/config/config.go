package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker and storage backends.
const (
	BrokerChannels = "channels"
	BrokerKafka    = "kafka"
	BrokerRedis    = "redis"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	HTTPAddr             string           `yaml:"http_addr"`
	ShutdownGraceSeconds int              `yaml:"shutdown_grace_seconds"`
	Broker               BrokerConfig     `yaml:"broker"`
	Database             DatabaseConfig   `yaml:"database"`
	Anonymizer           AnonymizerConfig `yaml:"anonymizer"`
}

type BrokerConfig struct {
	Backend string      `yaml:"backend"`
	Kafka   KafkaConfig `yaml:"kafka"`
	Redis   RedisConfig `yaml:"redis"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ConsumerGroup string `yaml:"consumer_group"`
}

type DatabaseConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

type AnonymizerConfig struct {
	StubEnabled bool `yaml:"stub_enabled"`
	StubDelayMS int  `yaml:"stub_delay_ms"`
}

// Load reads the yaml config at path; an empty path yields the defaults
// (in-process channels broker, in-memory storage, stub anonymizer on).
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		HTTPAddr:             ":8080",
		ShutdownGraceSeconds: 5,
		Broker: BrokerConfig{
			Backend: BrokerChannels,
			Kafka: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "anonymization-service",
			},
			Redis: RedisConfig{
				Addr:          "localhost:6379",
				ConsumerGroup: "anonymization-service",
			},
		},
		Database: DatabaseConfig{
			Backend: StorageMemory,
		},
		Anonymizer: AnonymizerConfig{
			StubEnabled: true,
			StubDelayMS: 1000,
		},
	}
}

func (c *Config) validate() error {
	switch c.Broker.Backend {
	case BrokerChannels, BrokerKafka, BrokerRedis:
	default:
		return fmt.Errorf("config: unknown broker backend %q", c.Broker.Backend)
	}

	switch c.Database.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("config: postgres backend requires a dsn")
		}
	default:
		return fmt.Errorf("config: unknown database backend %q", c.Database.Backend)
	}
	return nil
}

// ShutdownGrace is the period in-flight handlers get before transports close.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// StubDelay is the simulated processing time of the stub anonymizer.
func (c *Config) StubDelay() time.Duration {
	return time.Duration(c.Anonymizer.StubDelayMS) * time.Millisecond
}
