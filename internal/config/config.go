package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool

	// JWTSecret verifies bearer tokens minted by the identity service.
	JWTSecret string
	// SensorKeyHash is a bcrypt hash of the shared key sensors send in X-Sensor-Key.
	// Empty disables the check.
	SensorKeyHash string

	Reasoner ReasonerConfig
	Device   DeviceConfig
	Exec     ExecConfig

	NotifyURLs []string
}

// ReasonerConfig points at the LLM endpoint used for risk assessment.
type ReasonerConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// RatePerSecond caps outbound assessment calls; bursts are allowed up to Burst.
	RatePerSecond float64
	Burst         int
}

// DeviceConfig selects the enforcement backend.
type DeviceConfig struct {
	Mode            string // mock, http
	URL             string
	Timeout         time.Duration
	DefaultDeviceID *int
}

// ExecConfig tunes the execution engine and the stale task reaper.
type ExecConfig struct {
	Workers        int
	RetryBaseDelay time.Duration
	ReaperSchedule string
	StaleTaskAfter time.Duration
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:   getEnv("ARGUS_ENV", "development"),
		HTTPPort:      getEnv("ARGUS_HTTP_PORT", "8080"),
		DatabasePath:  getEnv("ARGUS_DB_PATH", filepath.Join("data", "argus.db")),
		LogDir:        getEnv("ARGUS_LOG_DIR", filepath.Join("data", "logs")),
		Debug:         getEnvBool("ARGUS_DEBUG", false),
		JWTSecret:     getEnv("ARGUS_JWT_SECRET", ""),
		SensorKeyHash: getEnv("ARGUS_SENSOR_KEY_HASH", ""),
		Reasoner: ReasonerConfig{
			BaseURL:       getEnv("ARGUS_LLM_BASE_URL", "http://localhost:11434"),
			Model:         getEnv("ARGUS_LLM_MODEL", "llama2"),
			Timeout:       getEnvDuration("ARGUS_LLM_TIMEOUT", 10*time.Second),
			RatePerSecond: getEnvFloat("ARGUS_LLM_RATE", 5),
			Burst:         getEnvInt("ARGUS_LLM_BURST", 5),
		},
		Device: DeviceConfig{
			Mode:    strings.ToLower(getEnv("ARGUS_DEVICE_MODE", "mock")),
			URL:     getEnv("ARGUS_DEVICE_URL", "http://localhost:3000"),
			Timeout: getEnvDuration("ARGUS_DEVICE_TIMEOUT", 30*time.Second),
		},
		Exec: ExecConfig{
			Workers:        getEnvInt("ARGUS_EXEC_WORKERS", 8),
			RetryBaseDelay: getEnvDuration("ARGUS_RETRY_BASE_DELAY", time.Second),
			ReaperSchedule: getEnv("ARGUS_REAPER_SCHEDULE", "@every 1m"),
			StaleTaskAfter: getEnvDuration("ARGUS_STALE_TASK_AFTER", 15*time.Minute),
		},
		NotifyURLs: splitList(getEnv("ARGUS_NOTIFY_URLS", "")),
	}

	if raw := getEnv("ARGUS_DEVICE_ID", ""); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse ARGUS_DEVICE_ID: %w", err)
		}
		cfg.Device.DefaultDeviceID = &id
	}

	switch cfg.Device.Mode {
	case "mock", "http":
	default:
		return Config{}, fmt.Errorf("unsupported ARGUS_DEVICE_MODE %q", cfg.Device.Mode)
	}

	if cfg.Exec.Workers < 1 {
		cfg.Exec.Workers = 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
