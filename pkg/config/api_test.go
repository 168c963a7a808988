package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadAPIConfig()
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.Addr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 50, cfg.AuditDefaultLimit)
	assert.Equal(t, 200, cfg.AuditMaxLimit)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.NotEmpty(t, cfg.MasterKey)
}

func TestLoadAPIConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "confvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
store_driver: sqlite
sqlite_path: /var/lib/confvault/store.db
master_key: file-master-key-passphrase
jwt_secret: 0123456789abcdef0123456789abcdef
access_token_ttl: 30m
audit_max_limit: 500
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("AUDIT_DEFAULT_LIMIT", "25")
	t.Setenv("SQLITE_PATH", "/tmp/override.db")

	cfg, err := LoadAPIConfig()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/override.db", cfg.SQLitePath)
	assert.Equal(t, "file-master-key-passphrase", cfg.MasterKey)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 25, cfg.AuditDefaultLimit)
	assert.Equal(t, 500, cfg.AuditMaxLimit)
}

func TestValidate(t *testing.T) {
	valid := defaultAPIConfig()
	valid.MasterKey = "a-sufficiently-long-passphrase"
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *APIConfig){
		"missing master key": func(c *APIConfig) { c.MasterKey = "" },
		"unknown driver":     func(c *APIConfig) { c.StoreDriver = "mysql" },
		"limits inverted":    func(c *APIConfig) { c.AuditDefaultLimit = 300 },
		"mqtt qos":           func(c *APIConfig) { c.MQTT.Broker = "tcp://broker:1883"; c.MQTT.QoS = 3 },
		"influx bucket":      func(c *APIConfig) { c.Influx.URL = "http://influx:8086"; c.Influx.Org = "ops" },
		"webhook secret":     func(c *APIConfig) { c.Webhook.URL = "https://hooks.example.com/audit" },
		"weak jwt in prod": func(c *APIConfig) {
			c.Environment = "production"
			c.JWTSecret = "short"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMasterKeyRequiredOutsideDevelopment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "production")
	t.Setenv("MASTER_KEY", "")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")

	_, err := LoadAPIConfig()
	assert.ErrorContains(t, err, "MASTER_KEY")
}

func TestGetDuration(t *testing.T) {
	t.Setenv("CONFVAULT_TEST_DURATION", "45s")
	assert.Equal(t, 45*time.Second, GetDuration("CONFVAULT_TEST_DURATION", time.Second))

	t.Setenv("CONFVAULT_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, GetDuration("CONFVAULT_TEST_DURATION", time.Second))
}

func TestLoadAPIConfigSinks(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "development")
	t.Setenv("AUDIT_MQTT_BROKER", "tcp://mosquitto:1883")
	t.Setenv("AUDIT_INFLUX_URL", "http://influxdb:8086")
	t.Setenv("AUDIT_INFLUX_ORG", "ops")
	t.Setenv("AUDIT_INFLUX_BUCKET", "audit")
	t.Setenv("AUDIT_WEBHOOK_URL", "https://hooks.example.com/audit")
	t.Setenv("AUDIT_WEBHOOK_SECRET", "hook-secret")

	cfg, err := LoadAPIConfig()
	require.NoError(t, err)
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "confvault/audit", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.True(t, cfg.Influx.Enabled())
	assert.Equal(t, "audit", cfg.Influx.Bucket)
	assert.Equal(t, "@every 1m", cfg.InventorySchedule)
	assert.True(t, cfg.Webhook.Enabled())
	assert.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 3, cfg.Webhook.Retries)
}
