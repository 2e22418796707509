// Package config loads and validates notifier configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Vendor   VendorConfig   `mapstructure:"vendor"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Checker  CheckerConfig  `mapstructure:"checker"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	DB       DBConfig       `mapstructure:"db"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Email    EmailConfig    `mapstructure:"email"`
	Report   ReportConfig   `mapstructure:"report"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server used by `serve`.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// VendorConfig points at the vendor catalog and release pages.
type VendorConfig struct {
	CatalogURL  string   `mapstructure:"catalog_url"`
	PrimaryBase string   `mapstructure:"primary_base"`
	AltBase     string   `mapstructure:"alt_base"`
	AltHosts    []string `mapstructure:"alt_hosts"`
	Sockets     []string `mapstructure:"sockets"`
}

// HTTPConfig configures the lightweight fetcher and pacing.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PaceMillis     int    `mapstructure:"pace_ms"`
}

// HeadlessConfig configures the browser fetcher.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ExecPath          string `mapstructure:"exec_path"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	Attempts          int    `mapstructure:"attempts"`
	RetryDelayMillis  int    `mapstructure:"retry_delay_ms"`
	WaitSelector      string `mapstructure:"wait_selector"`
}

// CheckerConfig configures change detection.
type CheckerConfig struct {
	Rounds int `mapstructure:"rounds"`
}

// NotifierConfig configures subscriber notification.
type NotifierConfig struct {
	DailyCap   int `mapstructure:"daily_cap"`
	GraceHours int `mapstructure:"grace_hours"`
}

// DBConfig controls access to the relational database. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	ModelsTable            string `mapstructure:"models_table"`
	UsersTable             string `mapstructure:"users_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// SnapshotConfig locates the JSON model snapshot.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// MirrorConfig selects where origin runs push the snapshot.
type MirrorConfig struct {
	Kind        string `mapstructure:"kind"`
	ObjectName  string `mapstructure:"object_name"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	GCSPrefix   string `mapstructure:"gcs_prefix"`
	LocalDir    string `mapstructure:"local_dir"`
	KeepHistory bool   `mapstructure:"keep_history"`
}

// EmailConfig holds SMTP settings. An empty host selects the log mailer.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	SiteURL  string `mapstructure:"site_url"`
}

// ReportConfig configures where run summaries are published.
type ReportConfig struct {
	WebhookURL            string `mapstructure:"webhook_url"`
	WebhookFooter         string `mapstructure:"webhook_footer"`
	WebhookTimeoutSeconds int    `mapstructure:"webhook_timeout_seconds"`
	PubSubProjectID       string `mapstructure:"pubsub_project_id"`
	PubSubTopic           string `mapstructure:"pubsub_topic"`
}

// RedisConfig enables the distributed run lock when Addr is set.
type RedisConfig struct {
	Addr           string `mapstructure:"addr"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	LockKey        string `mapstructure:"lock_key"`
	LockTTLMinutes int    `mapstructure:"lock_ttl_minutes"`
}

// MetricsConfig configures the Pushgateway used after CLI runs.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIOSNOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("vendor.catalog_url", "https://www.asrock.com/mb/")
	v.SetDefault("vendor.primary_base", "https://www.asrock.com")
	v.SetDefault("vendor.alt_base", "https://pg.asrock.com")
	v.SetDefault("vendor.alt_hosts", []string{"pg.asrock.com"})
	v.SetDefault("vendor.sockets", []string{"1700", "1851", "am4", "am5"})
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.pace_ms", 1500)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.attempts", 3)
	v.SetDefault("headless.retry_delay_ms", 2000)
	v.SetDefault("headless.wait_selector", "table tbody tr td")
	v.SetDefault("checker.rounds", 2)
	v.SetDefault("notifier.daily_cap", 100)
	v.SetDefault("notifier.grace_hours", 48)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.models_table", "models")
	v.SetDefault("db.users_table", "users")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("snapshot.path", "models.json")
	v.SetDefault("mirror.kind", "")
	v.SetDefault("mirror.object_name", "models.json")
	v.SetDefault("mirror.gcs_bucket", "")
	v.SetDefault("mirror.gcs_prefix", "")
	v.SetDefault("mirror.local_dir", "")
	v.SetDefault("mirror.keep_history", true)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.site_url", "https://biosnotifier.example")
	v.SetDefault("report.webhook_url", "")
	v.SetDefault("report.webhook_footer", "")
	v.SetDefault("report.webhook_timeout_seconds", 5)
	v.SetDefault("report.pubsub_project_id", "")
	v.SetDefault("report.pubsub_topic", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_key", "bios-notifier:run-lock")
	v.SetDefault("redis.lock_ttl_minutes", 120)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "bios_notifier")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.PaceMillis < 0 {
		return fmt.Errorf("http.pace_ms must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.Attempts <= 0 {
		return fmt.Errorf("headless.attempts must be > 0 when headless is enabled")
	}
	if c.Checker.Rounds <= 0 {
		return fmt.Errorf("checker.rounds must be > 0")
	}
	if c.Notifier.DailyCap <= 0 {
		return fmt.Errorf("notifier.daily_cap must be > 0")
	}
	if c.Notifier.GraceHours <= 0 {
		return fmt.Errorf("notifier.grace_hours must be > 0")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required")
	}
	switch c.Mirror.Kind {
	case "":
	case "gcs":
		if c.Mirror.GCSBucket == "" {
			return fmt.Errorf("mirror.gcs_bucket must be set when mirror.kind is gcs")
		}
	case "local":
		if c.Mirror.LocalDir == "" {
			return fmt.Errorf("mirror.local_dir must be set when mirror.kind is local")
		}
	default:
		return fmt.Errorf("mirror.kind must be one of gcs, local, or empty; got %q", c.Mirror.Kind)
	}
	if c.Email.Host != "" && c.Email.From == "" {
		return fmt.Errorf("email.from must be set when email.host is set")
	}
	if (c.Report.PubSubProjectID == "") != (c.Report.PubSubTopic == "") {
		return fmt.Errorf("report.pubsub_project_id and report.pubsub_topic must be set together")
	}
	return nil
}

// PaceInterval is the minimum spacing between remote calls.
func (c Config) PaceInterval() time.Duration {
	return time.Duration(c.HTTP.PaceMillis) * time.Millisecond
}

// GraceWindow is how long an unverified signup survives.
func (c Config) GraceWindow() time.Duration {
	return time.Duration(c.Notifier.GraceHours) * time.Hour
}

// LockTTL is the lease length of the distributed run lock.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLMinutes) * time.Minute
}
