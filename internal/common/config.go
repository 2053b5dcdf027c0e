package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置, 环境变量前缀 MANGO_, 例如 MANGO_DB_DSN
type Config struct {
	AppEnv   string `mapstructure:"app_env"`
	HTTPAddr string `mapstructure:"http_addr"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`

	DBDriver string `mapstructure:"db_driver"` // mysql or sqlite
	DBDSN    string `mapstructure:"db_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`

	// CallbackURL is where the worker delivers signed callbacks, normally <public server>/callback.
	CallbackURL    string `mapstructure:"callback_url"`
	CallbackSecret string `mapstructure:"callback_secret"`
	JWTSecret      string `mapstructure:"jwt_secret"`

	Provider ProviderConfig `mapstructure:"provider"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Retry    RetryConfig    `mapstructure:"retry"`

	StepTimeout         time.Duration `mapstructure:"step_timeout"`
	VideoStepTimeout    time.Duration `mapstructure:"video_step_timeout"`
	SweepSpec           string        `mapstructure:"sweep_spec"`
	OutreachConcurrency int           `mapstructure:"outreach_concurrency"`
	DeliverMaxRetry     int           `mapstructure:"deliver_max_retry"`

	LogPath  string `mapstructure:"log_path"`
	LogLevel string `mapstructure:"log_level"`
}

type ProviderConfig struct {
	SearchURL   string        `mapstructure:"search_url"`
	OutreachURL string        `mapstructure:"outreach_url"`
	VideoURL    string        `mapstructure:"video_url"`
	PublishURL  string        `mapstructure:"publish_url"`
	APIKey      string        `mapstructure:"api_key"`
	Actor       string        `mapstructure:"actor"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Base        time.Duration `mapstructure:"base"`
	Factor      float64       `mapstructure:"factor"`
	Cap         time.Duration `mapstructure:"cap"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_driver", "mysql")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("callback_url", "http://localhost:8080/callback")
	v.SetDefault("provider.actor", "mangosqueezy")
	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("kafka.topic", "pipeline-events")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base", time.Second)
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("retry.cap", 10*time.Second)
	v.SetDefault("step_timeout", 15*time.Minute)
	v.SetDefault("video_step_timeout", time.Hour)
	v.SetDefault("sweep_spec", "@every 1m")
	v.SetDefault("outreach_concurrency", 5)
	v.SetDefault("deliver_max_retry", 10)
	v.SetDefault("log_level", "info")
}

// LoadConfig reads defaults, the optional yaml file at path and MANGO_* env vars, in that order of precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MANGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about during Unmarshal
	for _, key := range []string{
		"cert_path", "key_path", "db_dsn", "redis_password", "callback_secret", "jwt_secret",
		"provider.search_url", "provider.outreach_url", "provider.video_url", "provider.publish_url",
		"provider.api_key", "kafka.brokers", "log_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validateConfig(config *Config) error {
	if config.DBDriver != "mysql" && config.DBDriver != "sqlite" {
		return fmt.Errorf("db_driver must be mysql or sqlite, got %q", config.DBDriver)
	}
	if config.DBDSN == "" {
		return fmt.Errorf("db_dsn is required")
	}
	if config.CallbackSecret == "" {
		return fmt.Errorf("callback_secret is required")
	}
	if config.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if config.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be at least 1")
	}
	if config.OutreachConcurrency < 1 {
		config.OutreachConcurrency = 1
	}
	return nil
}
