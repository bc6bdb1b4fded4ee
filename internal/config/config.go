// Package config loads runtime configuration for the mudra recognition service.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the service configuration, read from environment variables.
type Config struct {
	Addr           string
	DataDir        string
	DBPath         string
	ModelsDir      string
	AllowedOrigins []string

	// StaticDir serves a browser client at "/" when set.
	StaticDir string

	// ORTLibrary is the path to the ONNX Runtime shared library.
	// Empty means the library's platform default.
	ORTLibrary string

	// Python and ExtractorScript locate the MediaPipe landmark service.
	// Empty values are looked up next to the binary and under ~/.mudra.
	Python          string
	ExtractorScript string

	SessionIdle time.Duration

	// HistoryRetention prunes stored predictions older than this.
	// Zero keeps them forever.
	HistoryRetention time.Duration

	// RedisAddr selects the Redis window buffer when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MQTTBroker enables publishing predictions when set, e.g. "tcp://localhost:1883".
	MQTTBroker string
	MQTTTopic  string

	LogLevel string
	Env      string
}

// Load reads the configuration from the environment.
func Load() *Config {
	dataDir := getEnv("MUDRA_DATA_DIR", defaultDataDir())

	return &Config{
		Addr:             getEnv("MUDRA_ADDR", ":5000"),
		DataDir:          dataDir,
		DBPath:           getEnv("MUDRA_DB_PATH", filepath.Join(dataDir, "mudra.db")),
		ModelsDir:        getEnv("MUDRA_MODELS_DIR", "models"),
		AllowedOrigins:   getEnvAsList("MUDRA_ALLOWED_ORIGINS", []string{"*"}),
		StaticDir:        getEnv("MUDRA_STATIC_DIR", ""),
		ORTLibrary:       getEnv("MUDRA_ORT_LIBRARY", ""),
		Python:           getEnv("MUDRA_PYTHON", ""),
		ExtractorScript:  getEnv("MUDRA_EXTRACTOR_SCRIPT", ""),
		SessionIdle:      getEnvAsDuration("MUDRA_SESSION_IDLE", 5*time.Minute),
		HistoryRetention: getEnvAsDuration("MUDRA_HISTORY_RETENTION", 0),
		RedisAddr:        getEnv("MUDRA_REDIS_ADDR", ""),
		RedisPassword:    getEnv("MUDRA_REDIS_PASSWORD", ""),
		RedisDB:          getEnvAsInt("MUDRA_REDIS_DB", 0),
		MQTTBroker:       getEnv("MUDRA_MQTT_BROKER", ""),
		MQTTTopic:        getEnv("MUDRA_MQTT_TOPIC", "mudra/predictions"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Env:              getEnv("ENV", "development"),
	}
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".mudra"
	}
	return filepath.Join(homeDir, ".mudra")
}

// getEnv returns the environment variable or the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("90s", "5m").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
