package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Delivery DeliveryConfig
	Window   WindowConfig
	Media    MediaConfig
	Cloud    ProviderAPIConfig
	Session  ProviderAPIConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type DispatchConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

type DeliveryConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	SendTimeout time.Duration
}

type WindowConfig struct {
	Duration time.Duration
}

type MediaConfig struct {
	MaxBytes  int64
	UploadURL string
	Token     string
}

// ProviderAPIConfig points at one provider backend.
type ProviderAPIConfig struct {
	URL   string
	Token string
}

func LoadAll() (*Config, error) {
	var errs []error

	collect := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	collectInt := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: collect("POSTGRES_URL"),
		},
		Dispatch: DispatchConfig{
			Interval:  time.Duration(collectInt("DISPATCH_INTERVAL_SECONDS", 5)) * time.Second,
			BatchSize: collectInt("DISPATCH_BATCH_SIZE", 50),
			Workers:   collectInt("DISPATCH_WORKERS", 4),
		},
		Delivery: DeliveryConfig{
			MaxAttempts: collectInt("DELIVERY_MAX_ATTEMPTS", 5),
			BackoffBase: time.Duration(collectInt("DELIVERY_BACKOFF_BASE_MS", 1000)) * time.Millisecond,
			BackoffCap:  time.Duration(collectInt("DELIVERY_BACKOFF_CAP_MS", 30000)) * time.Millisecond,
			SendTimeout: time.Duration(collectInt("DELIVERY_SEND_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Window: WindowConfig{
			Duration: time.Duration(collectInt("WINDOW_HOURS", 24)) * time.Hour,
		},
		Media: MediaConfig{
			MaxBytes:  int64(collectInt("MEDIA_MAX_BYTES", 16<<20)),
			UploadURL: getEnv("MEDIA_UPLOAD_URL", ""),
			Token:     getEnv("MEDIA_UPLOAD_TOKEN", ""),
		},
		Cloud: ProviderAPIConfig{
			URL:   collect("CLOUD_API_URL"),
			Token: collect("CLOUD_API_TOKEN"),
		},
		Session: ProviderAPIConfig{
			URL:   collect("SESSION_API_URL"),
			Token: collect("SESSION_API_TOKEN"),
		},
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Redis = redisCfg

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors(errs)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Dispatch.Interval <= 0 {
		errs = append(errs, errors.New("DISPATCH_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.Workers <= 0 {
		errs = append(errs, errors.New("DISPATCH_WORKERS must be > 0"))
	}
	if cfg.Delivery.MaxAttempts <= 0 {
		errs = append(errs, errors.New("DELIVERY_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Delivery.BackoffBase <= 0 {
		errs = append(errs, errors.New("DELIVERY_BACKOFF_BASE_MS must be > 0"))
	}
	if cfg.Delivery.BackoffCap < cfg.Delivery.BackoffBase {
		errs = append(errs, errors.New("DELIVERY_BACKOFF_CAP_MS must be >= DELIVERY_BACKOFF_BASE_MS"))
	}
	if cfg.Window.Duration <= 0 {
		errs = append(errs, errors.New("WINDOW_HOURS must be > 0"))
	}
	if cfg.Media.MaxBytes <= 0 {
		errs = append(errs, errors.New("MEDIA_MAX_BYTES must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
