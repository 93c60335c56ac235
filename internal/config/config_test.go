package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saludtech/anonymization-service/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.BrokerChannels, cfg.Broker.Backend)
	assert.Equal(t, config.StorageMemory, cfg.Database.Backend)
	assert.True(t, cfg.Anonymizer.StubEnabled)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace())
	assert.Equal(t, time.Second, cfg.StubDelay())
}

func TestLoad_YamlOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9090"
shutdown_grace_seconds: 10
broker:
  backend: kafka
  kafka:
    brokers:
      - kafka-1:9092
      - kafka-2:9092
    consumer_group: anonymization
database:
  backend: postgres
  dsn: "host=localhost user=app dbname=anonymization"
anonymizer:
  stub_enabled: false
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace())
	assert.Equal(t, config.BrokerKafka, cfg.Broker.Backend)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "anonymization", cfg.Broker.Kafka.ConsumerGroup)
	assert.Equal(t, config.StoragePostgres, cfg.Database.Backend)
	assert.False(t, cfg.Anonymizer.StubEnabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_UnknownBrokerBackend(t *testing.T) {
	path := writeConfig(t, "broker:\n  backend: rabbitmq\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, "database:\n  backend: postgres\n")
	_, err := config.Load(path)
	require.Error(t, err)
}
