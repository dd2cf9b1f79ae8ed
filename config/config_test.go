package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
redis:
  host: "localhost"
  port: 6379
trackhub:
  http_addr: ":8080"
  kafka_consumer_group: "trackhub-api"
  shipment_cache_ttl_seconds: 600
  worker_fail_threshold: 5
  backoff_base_seconds: 300
  backoff_cap_seconds: 21600
carriers:
  dhl:
    enabled: true
    site_id: "sid"
    password: "pw"
    rate_limit_per_minute: 60
  spediamopro:
    enabled: true
    username: "user"
    password: "pw"
    auth_code: "ac"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, "localhost:9092", cfg.Kafka.Addr())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, ":8080", cfg.TrackHub.HTTPAddr)
	require.Equal(t, 5, cfg.TrackHub.WorkerFailThreshold)
	require.Equal(t, 21600, cfg.TrackHub.BackoffCapSeconds)
	require.True(t, cfg.Carriers.DHL.Enabled)
	require.Equal(t, "sid", cfg.Carriers.DHL.SiteID)
	require.Equal(t, 60, cfg.Carriers.DHL.RateLimitPerMinute)
	require.Equal(t, "ac", cfg.Carriers.SpediamoPro.AuthCode)
	require.False(t, cfg.Carriers.UPS.Enabled)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
