package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE", "")
	t.Setenv("RETRY_BACKOFF", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.ReconcileMaxAttempts)
	assert.Equal(t, 10, cfg.LoyaltyPoints)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.Zero(t, cfg.SweepInterval)
	assert.False(t, cfg.Pessimistic())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE", "SQL")
	t.Setenv("SQL_DRIVER", "postgres")
	t.Setenv("SQL_DSN", "host=db user=app dbname=rentals")
	t.Setenv("SQL_LOCKING", "pessimistic")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ADMIN_USER_IDS", "root,ops")
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "6")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("RETRY_BACKOFF", "2s, 10s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreSQL, cfg.Store)
	assert.True(t, cfg.Pessimistic())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"root", "ops"}, cfg.AdminUserIDs)
	assert.Equal(t, 6, cfg.ReconcileMaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, cfg.RetryBackoff)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"mongo without uri": {"STORE", "mongo"},
		"unknown store":     {"STORE", "redis"},
		"bad duration":      {"SWEEP_INTERVAL", "soon"},
		"bad attempts":      {"RECONCILE_MAX_ATTEMPTS", "0"},
		"bad locking":       {"SQL_LOCKING", "hopeful"},
		"bad backoff":       {"RETRY_BACKOFF", "1s,later"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("MONGO_URI", "")
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
