package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
	t.Setenv("JWT_PRIVATE_KEY", "private")
	t.Setenv("JWT_PUBLIC_KEY", "public")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, int64(10*1024*1024), cfg.API.MaxUploadBytes)
	assert.Equal(t, "poletrack", cfg.Database.Name)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 120*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Generation.PollInterval)
	assert.Equal(t, 10, cfg.Generation.RateLimit)
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("GENERATION_TIMEOUT", "30s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 30*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt")
}

func TestLoadRejectsUnknownLogFormat(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load()
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable TimeZone=UTC", d.DSN())
}
