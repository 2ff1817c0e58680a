package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const devSessionSecret = "dev-session-secret"

type Config struct {
	Environment string           `mapstructure:"environment"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Classifier  ClassifierConfig `mapstructure:"classifier"`
	Session     SessionConfig    `mapstructure:"session"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ClassifierConfig struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	Secret    string        `mapstructure:"secret"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
	Lifetime  time.Duration `mapstructure:"lifetime"`
}

// IsDevelopment reports whether development defaults are acceptable.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads .env, an optional config.yaml and SKINCHECK_* environment
// overrides, in increasing order of precedence. Environment defaults to
// production; local runs set SKINCHECK_ENVIRONMENT=development in .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("SKINCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Session.Secret == "" && cfg.IsDevelopment() {
		cfg.Session.Secret = devSessionSecret
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("classifier.addr", "classifier:50051")
	v.SetDefault("classifier.timeout", 10*time.Second)
	v.SetDefault("session.secret", "")
	v.SetDefault("session.result_ttl", 30*time.Minute)
	v.SetDefault("session.lifetime", 24*time.Hour)
}

func validate(cfg *Config) error {
	if cfg.Session.Secret == "" {
		return errors.New("session.secret is required")
	}
	if cfg.Session.ResultTTL <= 0 {
		return errors.New("session.result_ttl must be positive")
	}
	if cfg.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if cfg.Classifier.Addr == "" {
		return errors.New("classifier.addr is required")
	}
	return nil
}
