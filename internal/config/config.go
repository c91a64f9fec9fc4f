// config реализует конфигурацию communities-service: загрузка из YAML/ENV с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config - корневая конфигурация сервиса.
// Приоритет источников:
//  1. явный путь, переданный в MustLoad/Load;
//  2. переменная окружения CONFIG_PATH;
//  3. файл ./local.yaml из рабочей директории;
//  4. переменные окружения.
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	DB       DBConfig      `yaml:"db"`
	Redis    RedisConfig   `yaml:"redis"`
	S3       S3Config      `yaml:"s3"`
	Limits   LimitsConfig  `yaml:"limits"`
	Fanout   FanoutConfig  `yaml:"fanout"`
	Vote     VoteConfig    `yaml:"vote"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// HTTPConfig - адрес REST API (там же /livez, /healthz, /metrics).
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// DBConfig - подключение к MongoDB; имя базы берётся из пути URI.
type DBConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig - кэш счётчиков непрочитанных уведомлений. Пустой URL отключает кэш.
type RedisConfig struct {
	URL string        `yaml:"url" env:"REDIS_URL"`
	TTL time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"10m"`
}

// S3Config - MinIO с баннерами и иконками сообществ. Пустой endpoint отключает удаление изображений.
type S3Config struct {
	Endpoint      string `yaml:"endpoint" env:"S3_ENDPOINT"`
	RootUser      string `yaml:"root_user" env:"MINIO_ROOT_USER"`
	RootPassword  string `yaml:"root_password" env:"MINIO_ROOT_PASSWORD"`
	Bucket        string `yaml:"bucket" env:"S3_BUCKET" env-default:"community-images"`
	PublicBaseURL string `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL"`
	UseSSL        bool   `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"false"`
}

// LimitsConfig - размеры страниц и параллелизм каскадного удаления.
type LimitsConfig struct {
	Default         int64 `yaml:"default"          env:"DEFAULT_LIMIT"    env-default:"20"`
	Max             int64 `yaml:"max"              env:"MAX_LIMIT"        env-default:"100"`
	CascadeParallel int   `yaml:"cascade_parallel" env:"CASCADE_PARALLEL" env-default:"8"`
}

// FanoutConfig - рассылка уведомлений о новых постах через outbox.
type FanoutConfig struct {
	// Размер одной пакетной записи уведомлений, 1..500.
	BatchSize int `yaml:"batch_size" env:"FANOUT_BATCH_SIZE" env-default:"500"`
	// Inline - обрабатывать событие прямо в CreatePost, не дожидаясь воркера.
	Inline      bool          `yaml:"inline"       env:"FANOUT_INLINE"       env-default:"false"`
	Interval    time.Duration `yaml:"interval"     env:"FANOUT_INTERVAL"     env-default:"2s"`
	MaxAttempts int64         `yaml:"max_attempts" env:"FANOUT_MAX_ATTEMPTS" env-default:"5"`
	// Lease - через сколько захваченное, но не завершённое событие можно перехватить.
	Lease time.Duration `yaml:"lease" env:"FANOUT_LEASE" env-default:"1m"`
}

// VoteConfig - оптимистичные повторы при гонке голосов.
type VoteConfig struct {
	MaxRetries int `yaml:"max_retries" env:"VOTE_MAX_RETRIES" env-default:"5"`
}

// TimeoutConfig - общий дедлайн обработки запроса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
}

// MustLoad - обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// Переменные окружения накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path == "" {
		if _, err := os.Stat("local.yaml"); err == nil {
			path = "local.yaml"
		}
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}

		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate - базовая валидация значений.
func (c *Config) validate() error {
	switch c.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("env must be one of local, dev, prod (got %q)", c.Env)
	}

	if c.DB.URL == "" {
		return errors.New("db.url is required")
	}

	if c.Limits.Default <= 0 {
		return errors.New("limits.default must be > 0")
	}

	if c.Limits.Max <= 0 {
		return errors.New("limits.max must be > 0")
	}

	if c.Limits.Default > c.Limits.Max {
		return errors.New("limits.default must be <= limits.max")
	}

	if c.Limits.CascadeParallel <= 0 {
		return errors.New("limits.cascade_parallel must be > 0")
	}

	if c.Fanout.BatchSize < 1 || c.Fanout.BatchSize > 500 {
		return errors.New("fanout.batch_size must be within 1..500")
	}

	if c.Fanout.Interval <= 0 {
		return errors.New("fanout.interval must be > 0")
	}

	if c.Fanout.MaxAttempts <= 0 {
		return errors.New("fanout.max_attempts must be > 0")
	}

	if c.Fanout.Lease < time.Second {
		return errors.New("fanout.lease must be at least 1s")
	}

	if c.Vote.MaxRetries <= 0 {
		return errors.New("vote.max_retries must be > 0")
	}

	if c.Timeouts.Service <= 0 {
		return errors.New("timeouts.service must be > 0")
	}

	if c.S3.Endpoint != "" && c.S3.Bucket == "" {
		return errors.New("s3.bucket is required when s3.endpoint is set")
	}

	return nil
}
