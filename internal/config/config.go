package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Executors ExecutorsConfig  `mapstructure:"executors"`
	Notify    NotifyConfig     `mapstructure:"notify"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Resources []ResourceConfig `mapstructure:"resources"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// DatabaseConfig points at the relational store holding resources, policies
// and the backup ledger.
type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
	// MaxConns caps the pool. Each in-flight backup or rollback holds one
	// connection for its resource lock.
	MaxConns int32 `mapstructure:"max_conns"`
}

type SchedulerConfig struct {
	// Tick is a six-field cron spec (with seconds) driving evaluation.
	Tick string `mapstructure:"tick"`
}

type StorageConfig struct {
	Type string `mapstructure:"type"`

	// Local
	Path string `mapstructure:"path"`

	// AWS S3 and R2
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`

	// R2
	AccountID string `mapstructure:"account_id"`
	Endpoint  string `mapstructure:"endpoint"`

	// Google Drive
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`
}

type ExecutorsConfig struct {
	WorkDir      string        `mapstructure:"work_dir"`
	DockerBinary string        `mapstructure:"docker_binary"`
	HelperImage  string        `mapstructure:"helper_image"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Compress     bool          `mapstructure:"compress"`
	GzipLevel    int           `mapstructure:"gzip_level"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	// OnlyFailures suppresses success messages.
	OnlyFailures bool `mapstructure:"only_failures"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ResourceConfig seeds the registry at startup.
type ResourceConfig struct {
	ID     string       `mapstructure:"id"`
	Name   string       `mapstructure:"name"`
	Kind   string       `mapstructure:"kind"`
	Policy PolicyConfig `mapstructure:"policy"`

	// Container
	Container   string `mapstructure:"container"`
	Volume      string `mapstructure:"volume"`
	Network     string `mapstructure:"network"`
	ConfigFiles string `mapstructure:"config_files"`

	// Database
	Engine       string `mapstructure:"engine"`
	Database     string `mapstructure:"database"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Version      string `mapstructure:"version"`
	ContainerID  string `mapstructure:"container_id"`
	AuthDatabase string `mapstructure:"auth_database"`
	SSLMode      string `mapstructure:"ssl_mode"`

	// App
	DataLocation   string `mapstructure:"data_location"`
	ConfigLocation string `mapstructure:"config_location"`
	DatabaseID     string `mapstructure:"database_id"`
	Runtime        string `mapstructure:"runtime"`
}

type PolicyConfig struct {
	Tool            string        `mapstructure:"tool"`
	Frequency       time.Duration `mapstructure:"frequency"`
	Schedule        string        `mapstructure:"schedule"`
	Copies          int           `mapstructure:"copies"`
	RetentionPeriod time.Duration `mapstructure:"retention_period"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("KEEPSAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "keepsake")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.max_conns", 16)
	v.SetDefault("scheduler.tick", "0 * * * * *")
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "/var/lib/keepsake/artifacts")
	v.SetDefault("executors.work_dir", "/var/lib/keepsake/work")
	v.SetDefault("executors.docker_binary", "docker")
	v.SetDefault("executors.helper_image", "alpine")
	v.SetDefault("executors.timeout", "2h")
	v.SetDefault("executors.compress", true)
	v.SetDefault("executors.gzip_level", 6)
	v.SetDefault("metrics.addr", ":9090")
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Scheduler.Tick == "" {
		return fmt.Errorf("scheduler.tick is required")
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for local storage")
		}
	case "s3":
		if c.Storage.Bucket == "" || c.Storage.Region == "" {
			return fmt.Errorf("storage.bucket and storage.region are required for s3")
		}
	case "r2":
		if c.Storage.Bucket == "" || (c.Storage.AccountID == "" && c.Storage.Endpoint == "") {
			return fmt.Errorf("storage.bucket and storage.account_id (or endpoint) are required for r2")
		}
	case "gdrive":
		if c.Storage.CredentialsFile == "" || c.Storage.FolderID == "" {
			return fmt.Errorf("storage.credentials_file and storage.folder_id are required for gdrive")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}

	if c.Executors.WorkDir == "" {
		return fmt.Errorf("executors.work_dir is required")
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram: bot_token and chat_id are required when enabled")
	}

	seen := make(map[string]bool)
	for i, r := range c.Resources {
		if r.ID == "" {
			return fmt.Errorf("resources[%d]: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("resources[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true

		if r.Kind == "" {
			return fmt.Errorf("resources[%d]: kind is required", i)
		}
		if r.Policy.Tool == "" {
			continue
		}
		if r.Policy.Frequency <= 0 && r.Policy.Schedule == "" {
			return fmt.Errorf("resources[%d]: policy frequency or schedule is required", i)
		}
		if r.Policy.Copies < 0 {
			return fmt.Errorf("resources[%d]: policy copies must not be negative", i)
		}
	}

	return nil
}
