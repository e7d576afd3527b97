package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"PMHUB_ADDR", "PMHUB_STORE", "PMHUB_TX_TIMEOUT", "KAFKA_BROKERS", "PMHUB_BULK_CONCURRENCY"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 8, cfg.BulkConcurrency)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PMHUB_STORE", "Postgres")
	t.Setenv("PMHUB_TX_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PMHUB_BULK_CONCURRENCY", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 750*time.Millisecond, cfg.TxTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 8, cfg.BulkConcurrency)
}
