package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

var envMu sync.Mutex

func setRequired(t *testing.T) {
	t.Helper()

	t.Setenv("POSTGRES_URL", "postgres://u:p@localhost:5432/db?sslmode=disable")
	t.Setenv("CLOUD_API_URL", "https://graph.example.com/v19.0/123")
	t.Setenv("CLOUD_API_TOKEN", "cloud-token")
	t.Setenv("SESSION_API_URL", "http://localhost:3000")
	t.Setenv("SESSION_API_TOKEN", "session-token")
}

func TestLoadAll_HappyPath_NoRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	setRequired(t)

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected Server.Address default: %q", cfg.Server.Address)
	}
	if cfg.Dispatch.Interval != 5*time.Second {
		t.Fatalf("unexpected Dispatch.Interval default: %v", cfg.Dispatch.Interval)
	}
	if cfg.Dispatch.BatchSize != 50 || cfg.Dispatch.Workers != 4 {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg.Dispatch)
	}
	if cfg.Delivery.MaxAttempts != 5 {
		t.Fatalf("unexpected MaxAttempts default: %d", cfg.Delivery.MaxAttempts)
	}
	if cfg.Delivery.BackoffBase != time.Second || cfg.Delivery.BackoffCap != 30*time.Second {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Delivery)
	}
	if cfg.Window.Duration != 24*time.Hour {
		t.Fatalf("unexpected Window.Duration default: %v", cfg.Window.Duration)
	}
	if cfg.Media.MaxBytes != 16<<20 {
		t.Fatalf("unexpected Media.MaxBytes default: %d", cfg.Media.MaxBytes)
	}
	if cfg.Redis.Enabled {
		t.Fatalf("expected Redis disabled when REDIS_ADDR not set")
	}
}

func TestLoadAll_HappyPath_WithRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	setRequired(t)

	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TTL_SECONDS", "42")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if !cfg.Redis.Enabled {
		t.Fatalf("expected Redis enabled")
	}
	if cfg.Redis.Address != "localhost:6379" || cfg.Redis.Password != "secret" || cfg.Redis.DB != 3 {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Redis.TTL != 42*time.Second {
		t.Fatalf("unexpected Redis.TTL: %v", cfg.Redis.TTL)
	}
}

func TestLoadAll_RequiredEnvMissing(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	keys := []string{"POSTGRES_URL", "CLOUD_API_URL", "CLOUD_API_TOKEN", "SESSION_API_URL", "SESSION_API_TOKEN"}
	for _, key := range keys {
		key := key
		t.Run("missing "+key, func(t *testing.T) {
			clearTestEnv(t)
			setRequired(t)
			t.Setenv(key, "")

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected error mentioning %s, got: %v", key, err)
			}
		})
	}
}

func TestLoadAll_InvalidInts(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"invalid DISPATCH_INTERVAL_SECONDS", "DISPATCH_INTERVAL_SECONDS", "nope"},
		{"invalid DISPATCH_BATCH_SIZE", "DISPATCH_BATCH_SIZE", "x"},
		{"invalid DELIVERY_MAX_ATTEMPTS", "DELIVERY_MAX_ATTEMPTS", "abc"},
		{"invalid WINDOW_HOURS", "WINDOW_HOURS", "day"},
		{"invalid REDIS_DB", "REDIS_DB", "bad"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)
			setRequired(t)

			if strings.HasPrefix(tc.key, "REDIS_") {
				t.Setenv("REDIS_ADDR", "localhost:6379")
			}
			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.key, err)
			}
		})
	}
}

func TestLoadAll_ValidationFailures(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"batch size <= 0", "DISPATCH_BATCH_SIZE", "0"},
		{"interval <= 0", "DISPATCH_INTERVAL_SECONDS", "0"},
		{"workers <= 0", "DISPATCH_WORKERS", "-1"},
		{"max attempts <= 0", "DELIVERY_MAX_ATTEMPTS", "0"},
		{"window <= 0", "WINDOW_HOURS", "0"},
		{"cap below base", "DELIVERY_BACKOFF_CAP_MS", "500"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)
			setRequired(t)
			t.Setenv(tc.key, tc.val)

			_, err := LoadAll()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error mentioning %s, got: %v", tc.key, err)
			}
		})
	}
}

func TestRequireEnv(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	_, err := requireEnv("MISSING_KEY")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	t.Setenv("FOO", "bar")
	v, err := requireEnv("FOO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "bar" {
		t.Fatalf("expected %q, got %q", "bar", v)
	}
}

func TestGetEnvInt(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)

	got, err := getEnvInt("MISSING", 7)
	if err != nil || got != 7 {
		t.Fatalf("expected default 7, got %d %v", got, err)
	}

	t.Setenv("N", "123")
	got, err = getEnvInt("N", 7)
	if err != nil || got != 123 {
		t.Fatalf("expected 123, got %d %v", got, err)
	}

	t.Setenv("BAD", "abc")
	if _, err = getEnvInt("BAD", 7); err == nil || !strings.Contains(err.Error(), "BAD") {
		t.Fatalf("expected error mentioning BAD, got: %v", err)
	}
}

func TestJoinErrors(t *testing.T) {
	if err := joinErrors(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	e1 := errors.New("one")
	e2 := errors.New("two")
	err := joinErrors([]error{e1, e2})
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected joined error to wrap both, got %v", err)
	}
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"POSTGRES_URL",
		"SERVER_ADDRESS",
		"DISPATCH_INTERVAL_SECONDS",
		"DISPATCH_BATCH_SIZE",
		"DISPATCH_WORKERS",
		"DELIVERY_MAX_ATTEMPTS",
		"DELIVERY_BACKOFF_BASE_MS",
		"DELIVERY_BACKOFF_CAP_MS",
		"DELIVERY_SEND_TIMEOUT_SECONDS",
		"WINDOW_HOURS",
		"MEDIA_MAX_BYTES",
		"MEDIA_UPLOAD_URL",
		"MEDIA_UPLOAD_TOKEN",
		"CLOUD_API_URL",
		"CLOUD_API_TOKEN",
		"SESSION_API_URL",
		"SESSION_API_TOKEN",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"REDIS_TTL_SECONDS",
		"FOO",
		"N",
		"BAD",
	}
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}
