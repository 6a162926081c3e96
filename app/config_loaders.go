package chatsync

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type ConfigLoader interface {
	Load() (*Config, error)
}

// EnvConfigLoader loads the configuration from environment variables, after
// sourcing a .env file when one is present in the working directory.
type EnvConfigLoader struct {
}

func (l *EnvConfigLoader) Load() (*Config, error) {
	// A missing .env file is not an error, plain environment variables work too.
	_ = godotenv.Load()

	config := &Config{}
	config.API.URL = getEnv("API_URL")
	config.WS.URL = getEnv("WS_URL")
	config.WS.Path = getEnvDefault("WS_PATH", "/socket.io")
	config.WS.Reconnection = getEnvDefault("WS_RECONNECTION", "true") != "false"
	config.WS.ReconnectionAttempts = getEnvInt("WS_RECONNECTION_ATTEMPTS", 5)
	config.WS.ReconnectionDelay = getEnvDuration("WS_RECONNECTION_DELAY", time.Second)
	config.WS.ReconnectionDelayMax = getEnvDuration("WS_RECONNECTION_DELAY_MAX", 5*time.Second)
	config.WS.Timeout = getEnvDuration("WS_TIMEOUT", 20*time.Second)
	return config, nil
}

// DefaultConfigLoader fills every knob with its default and points both
// surfaces at a local backend.
type DefaultConfigLoader struct {
}

func (l *DefaultConfigLoader) Load() (*Config, error) {
	config := &Config{}
	config.API.URL = "http://localhost:8080/api"
	config.WS.URL = "http://localhost:8080"
	config.WS.Path = "/socket.io"
	config.WS.Reconnection = true
	config.WS.ReconnectionAttempts = 5
	config.WS.ReconnectionDelay = time.Second
	config.WS.ReconnectionDelayMax = 5 * time.Second
	config.WS.Timeout = 20 * time.Second
	return config, nil
}

// Utility function to get an environment variable with a default value
func getEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return ""
	}
	return value
}

func getEnvDefault(key, fallback string) string {
	if v := getEnv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key))
	if err != nil {
		return fallback
	}
	return v
}
