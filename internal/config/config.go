package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const (
	StorageMemory = "memory"
	StorageMySQL  = "mysql"
)

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Burst      BurstConfig      `mapstructure:"burst"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	UsageSink  UsageSinkConfig  `mapstructure:"usage_sink"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr       string `mapstructure:"addr"`
	AdminToken string `mapstructure:"admin_token"`
	BodyLimit  string `mapstructure:"body_limit"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	UsageTopic     string        `mapstructure:"usage_topic"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	Async          bool          `mapstructure:"async"`
}

// Enabled reports whether usage events should be published at all.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type BurstConfig struct {
	Window        time.Duration `mapstructure:"window"`
	Cap           int           `mapstructure:"cap"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type ProviderSeed struct {
	Name       string `mapstructure:"name"`
	Address    string `mapstructure:"address"`
	Owner      string `mapstructure:"owner"`
	Credential string `mapstructure:"credential"`
}

type ProvidersConfig struct {
	FailureThreshold int            `mapstructure:"failure_threshold"`
	SelectionPolicy  string         `mapstructure:"selection_policy"`
	ProbeInterval    time.Duration  `mapstructure:"probe_interval"`
	ProbeRPS         float64        `mapstructure:"probe_rps"`
	ProbeTimeout     time.Duration  `mapstructure:"probe_timeout"`
	Seed             []ProviderSeed `mapstructure:"seed"`
}

type DispatcherConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	CatalogTTL           time.Duration `mapstructure:"catalog_ttl"`
	Retries              int           `mapstructure:"retries"`
	NoProviderRetryAfter time.Duration `mapstructure:"no_provider_retry_after"`
}

type UsageSinkConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (IGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	// env override (IGW_HTTP_ADDR, IGW_STORAGE_DRIVER, ...)
	v.SetEnvPrefix("IGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the gateway cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageMySQL:
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Burst.Window <= 0 || c.Burst.Cap <= 0 {
		return fmt.Errorf("burst: window and cap must be positive")
	}
	if c.Dispatcher.Retries < 0 {
		return fmt.Errorf("dispatcher.retries: must not be negative")
	}
	if c.Providers.FailureThreshold <= 0 {
		return fmt.Errorf("providers.failure_threshold: must be positive")
	}
	return nil
}
