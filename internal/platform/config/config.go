package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Webhooks    WebhooksConfig    `mapstructure:"webhooks"`
	Escalations EscalationsConfig `mapstructure:"escalations"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Email       EmailConfig       `mapstructure:"email"`
	Links       LinksConfig       `mapstructure:"links"`
	Brands      map[string]BrandConfig `mapstructure:"brands"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// BrandConfig holds per-client notification preferences: where escalation
// notifications go and whether the client opted out.
type BrandConfig struct {
	NotifyEmail string `mapstructure:"notify_email"`
	WebhookURL  string `mapstructure:"webhook_url"`
	Provider    string `mapstructure:"provider"`
	Muted       bool   `mapstructure:"muted"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// WebhooksConfig carries the retry policy, the delivery scheduler tuning and
// the per-provider shared secrets used for signing and callback verification.
type WebhooksConfig struct {
	BaseDelayMs       int               `mapstructure:"base_delay_ms"`
	MaxDelayMs        int               `mapstructure:"max_delay_ms"`
	MaxAttempts       int               `mapstructure:"max_attempts"`
	BackoffMultiplier float64           `mapstructure:"backoff_multiplier"`
	PollInterval      time.Duration     `mapstructure:"poll_interval"`
	MaxConcurrent     int               `mapstructure:"max_concurrent"`
	BatchSize         int               `mapstructure:"batch_size"`
	RequestTimeout    time.Duration     `mapstructure:"request_timeout"`
	ProviderSecrets   map[string]string `mapstructure:"provider_secrets"`
}

type EscalationsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type AuditConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

// LinksConfig holds the public base URL used when rendering approval and
// unsubscribe links inside notifications.
type LinksConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Defaults observed in production: 2s base, 5m cap, 5 attempts, x2 growth.
func setDefaults() {
	viper.SetDefault("webhooks.base_delay_ms", 2000)
	viper.SetDefault("webhooks.max_delay_ms", 300000)
	viper.SetDefault("webhooks.max_attempts", 5)
	viper.SetDefault("webhooks.backoff_multiplier", 2.0)
	viper.SetDefault("webhooks.poll_interval", "30s")
	viper.SetDefault("webhooks.max_concurrent", 10)
	viper.SetDefault("webhooks.batch_size", 100)
	viper.SetDefault("webhooks.request_timeout", "10s")
	viper.SetDefault("escalations.enabled", true)
	viper.SetDefault("escalations.poll_interval", "60s")
	viper.SetDefault("escalations.max_age", "168h")
	viper.SetDefault("escalations.max_concurrent", 5)
	viper.SetDefault("escalations.batch_size", 50)
	viper.SetDefault("audit.retention_days", 365)
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("logging.level", "info")
}

// RetryPolicy view used by the webhook engine.
func (c WebhooksConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

func (c WebhooksConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}
