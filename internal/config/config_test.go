package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("AUTH_API_KEY_HASH", "$2a$10$hash")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PAYMENT_DELAY", "250ms")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, DriverMemory, cfg.DatabaseDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.PaymentDelay)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, byte(1), cfg.MQTTQoS)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	content := "AUTH_JWT_SECRET=file-secret\nAUTH_API_KEY_HASH=h\nDATABASE_DRIVER=memory\nSERVER_PORT=9000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "file-secret", cfg.JWTSecret)
	assert.Equal(t, "9000", cfg.ServerPort)
}

func TestValidate(t *testing.T) {
	base := Config{JWTSecret: "s", APIKeyHash: "h", DatabaseDriver: DriverMemory, MQTTQoS: 1}
	require.NoError(t, base.Validate())

	noURL := base
	noURL.DatabaseDriver = DriverPostgres
	assert.ErrorContains(t, noURL.Validate(), "DATABASE_URL")

	unknown := base
	unknown.DatabaseDriver = "sqlite"
	assert.ErrorContains(t, unknown.Validate(), "not supported")

	missing := Config{DatabaseDriver: DriverMemory}
	err := missing.Validate()
	assert.ErrorContains(t, err, "AUTH_JWT_SECRET")
	assert.ErrorContains(t, err, "AUTH_API_KEY_HASH")
}
