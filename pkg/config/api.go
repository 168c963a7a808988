package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DriverPostgres selects the pgx backed store.
	DriverPostgres = "postgres"
	// DriverSQLite selects the embedded SQLite store.
	DriverSQLite = "sqlite"

	developmentEnv         = "development"
	developmentMasterKey   = "confvault-development-master-key"
	developmentJWTSecret   = "supersecuresecret"
	minProductionJWTSecret = 32
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string        `yaml:"environment"`
	Addr               string        `yaml:"addr"`
	StoreDriver        string        `yaml:"store_driver"`
	DatabaseURL        string        `yaml:"database_url"`
	SQLitePath         string        `yaml:"sqlite_path"`
	MasterKey          string        `yaml:"master_key"`
	JWTSecret          string        `yaml:"jwt_secret"`
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl"`
	AuditDefaultLimit  int           `yaml:"audit_default_limit"`
	AuditMaxLimit      int           `yaml:"audit_max_limit"`
	AuditStreamBuffer  int           `yaml:"audit_stream_buffer"`
	RateLimitRedisAddr string        `yaml:"rate_limit_redis_addr"`
	RateLimitRedisPass string        `yaml:"rate_limit_redis_password"`
	RateLimitRedisDB   int           `yaml:"rate_limit_redis_db"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	InventorySchedule  string        `yaml:"inventory_schedule"`

	MQTT    MQTTSinkConfig    `yaml:"audit_mqtt"`
	Influx  InfluxSinkConfig  `yaml:"audit_influx"`
	Webhook WebhookSinkConfig `yaml:"audit_webhook"`
}

// MQTTSinkConfig configures forwarding of committed audit entries to an MQTT
// broker. The sink is disabled when Broker is empty.
type MQTTSinkConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// Enabled reports whether a broker is configured.
func (c MQTTSinkConfig) Enabled() bool { return c.Broker != "" }

// InfluxSinkConfig configures audit counters written to InfluxDB v2. The sink
// is disabled when URL is empty.
type InfluxSinkConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether an InfluxDB endpoint is configured.
func (c InfluxSinkConfig) Enabled() bool { return c.URL != "" }

// WebhookSinkConfig configures signed HTTP delivery of audit entries.
type WebhookSinkConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// Enabled reports whether a webhook endpoint is configured.
func (c WebhookSinkConfig) Enabled() bool { return c.URL != "" }

func defaultAPIConfig() APIConfig {
	return APIConfig{
		Environment:       developmentEnv,
		Addr:              ":4000",
		StoreDriver:       DriverPostgres,
		DatabaseURL:       "postgres://confvault:confvault@db:5432/confvault?sslmode=disable",
		SQLitePath:        "data/confvault.db",
		JWTSecret:         developmentJWTSecret,
		AccessTokenTTL:    15 * time.Minute,
		AuditDefaultLimit: 50,
		AuditMaxLimit:     200,
		AuditStreamBuffer: 100,
		LogLevel:          "info",
		LogFormat:         "json",
		ShutdownTimeout:   10 * time.Second,
		InventorySchedule: "@every 1m",
		MQTT: MQTTSinkConfig{
			ClientID:    "confvault-api",
			TopicPrefix: "confvault/audit",
			QoS:         1,
		},
		Webhook: WebhookSinkConfig{
			Timeout: 5 * time.Second,
			Retries: 3,
		},
	}
}

// LoadAPIConfig constructs an APIConfig. Values from the YAML file named by
// CONFIG_FILE are applied first, then environment variables override them.
func LoadAPIConfig() (APIConfig, error) {
	cfg := defaultAPIConfig()

	if path := GetString("CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return APIConfig{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return APIConfig{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Environment = GetString("APP_ENV", cfg.Environment)
	cfg.Addr = GetString("API_ADDR", cfg.Addr)
	cfg.StoreDriver = GetString("STORE_DRIVER", cfg.StoreDriver)
	cfg.DatabaseURL = GetString("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = GetString("SQLITE_PATH", cfg.SQLitePath)
	cfg.MasterKey = GetString("MASTER_KEY", cfg.MasterKey)
	cfg.JWTSecret = GetString("JWT_SECRET", cfg.JWTSecret)
	cfg.AccessTokenTTL = time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", int(cfg.AccessTokenTTL/time.Minute))) * time.Minute
	cfg.AuditDefaultLimit = GetInt("AUDIT_DEFAULT_LIMIT", cfg.AuditDefaultLimit)
	cfg.AuditMaxLimit = GetInt("AUDIT_MAX_LIMIT", cfg.AuditMaxLimit)
	cfg.AuditStreamBuffer = GetInt("WS_AUDIT_BUFFER", cfg.AuditStreamBuffer)
	cfg.RateLimitRedisAddr = GetString("RATE_LIMIT_REDIS_ADDR", cfg.RateLimitRedisAddr)
	cfg.RateLimitRedisPass = GetString("RATE_LIMIT_REDIS_PASSWORD", cfg.RateLimitRedisPass)
	cfg.RateLimitRedisDB = GetInt("RATE_LIMIT_REDIS_DB", cfg.RateLimitRedisDB)
	cfg.LogLevel = GetString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = GetString("LOG_FORMAT", cfg.LogFormat)
	cfg.ShutdownTimeout = GetDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.InventorySchedule = GetString("INVENTORY_SCHEDULE", cfg.InventorySchedule)

	cfg.MQTT.Broker = GetString("AUDIT_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = GetString("AUDIT_MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = GetString("AUDIT_MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = GetString("AUDIT_MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.TopicPrefix = GetString("AUDIT_MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)
	cfg.MQTT.QoS = GetInt("AUDIT_MQTT_QOS", cfg.MQTT.QoS)

	cfg.Influx.URL = GetString("AUDIT_INFLUX_URL", cfg.Influx.URL)
	cfg.Influx.Token = GetString("AUDIT_INFLUX_TOKEN", cfg.Influx.Token)
	cfg.Influx.Org = GetString("AUDIT_INFLUX_ORG", cfg.Influx.Org)
	cfg.Influx.Bucket = GetString("AUDIT_INFLUX_BUCKET", cfg.Influx.Bucket)

	cfg.Webhook.URL = GetString("AUDIT_WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Secret = GetString("AUDIT_WEBHOOK_SECRET", cfg.Webhook.Secret)
	cfg.Webhook.Timeout = GetDuration("AUDIT_WEBHOOK_TIMEOUT", cfg.Webhook.Timeout)
	cfg.Webhook.Retries = GetInt("AUDIT_WEBHOOK_RETRIES", cfg.Webhook.Retries)

	if cfg.MasterKey == "" && cfg.IsDevelopment() {
		cfg.MasterKey = developmentMasterKey
	}

	if err := cfg.Validate(); err != nil {
		return APIConfig{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in the development environment.
func (c APIConfig) IsDevelopment() bool {
	return c.Environment == developmentEnv
}

// UsesDevelopmentMasterKey reports whether the built-in development key is in use.
func (c APIConfig) UsesDevelopmentMasterKey() bool {
	return c.MasterKey == developmentMasterKey
}

// Validate reports every configuration problem at once.
func (c APIConfig) Validate() error {
	var errs []string

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER must be %q or %q", DriverPostgres, DriverSQLite))
	}

	if strings.TrimSpace(c.MasterKey) == "" {
		errs = append(errs, "MASTER_KEY is required")
	}
	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if !c.IsDevelopment() && len(c.JWTSecret) < minProductionJWTSecret {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least %d characters outside development", minProductionJWTSecret))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, "ACCESS_TOKEN_TTL_MIN must be positive")
	}
	if c.AuditDefaultLimit <= 0 || c.AuditMaxLimit <= 0 {
		errs = append(errs, "audit limits must be positive")
	} else if c.AuditDefaultLimit > c.AuditMaxLimit {
		errs = append(errs, "AUDIT_DEFAULT_LIMIT must not exceed AUDIT_MAX_LIMIT")
	}

	if c.MQTT.Enabled() && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "AUDIT_MQTT_QOS must be 0, 1 or 2")
	}
	if c.Influx.Enabled() && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		errs = append(errs, "AUDIT_INFLUX_ORG and AUDIT_INFLUX_BUCKET are required when AUDIT_INFLUX_URL is set")
	}
	if c.Webhook.Enabled() {
		if c.Webhook.Secret == "" {
			errs = append(errs, "AUDIT_WEBHOOK_SECRET is required when AUDIT_WEBHOOK_URL is set")
		}
		if c.Webhook.Timeout <= 0 || c.Webhook.Retries < 0 {
			errs = append(errs, "AUDIT_WEBHOOK_TIMEOUT must be positive and AUDIT_WEBHOOK_RETRIES non-negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
