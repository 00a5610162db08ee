package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	ServerDomain   string
	CallRequestTTL time.Duration
	Redis          RedisConfig
	Media          MediaConfig
	Federation     FederationConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// MediaConfig configures the control connection to the media-routing backend.
type MediaConfig struct {
	BackendURL     string
	APIKey         string
	ReconnectDelay time.Duration
	MaxReconnects  int
	RequestTimeout time.Duration
}

// FederationConfig configures the cross-operator handshake transport.
type FederationConfig struct {
	Secret  string
	Timeout time.Duration
}

func Load() *Config {
	_ = godotenv.Load()

	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		ServerDomain:   getEnv("SERVER_DOMAIN", "localhost"),
		CallRequestTTL: getDuration("CALL_REQUEST_TTL", 2*time.Minute),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Media: MediaConfig{
			BackendURL:     getEnv("MEDIA_BACKEND_URL", "ws://localhost:4443/ws"),
			APIKey:         getEnv("MEDIA_API_KEY", ""),
			ReconnectDelay: getDuration("MEDIA_RECONNECT_DELAY", 3*time.Second),
			MaxReconnects:  getInt("MEDIA_MAX_RECONNECTS", 5),
			RequestTimeout: getDuration("MEDIA_REQUEST_TIMEOUT", 10*time.Second),
		},
		Federation: FederationConfig{
			Secret:  getEnv("FEDERATION_SECRET", ""),
			Timeout: getDuration("FEDERATION_TIMEOUT", 15*time.Second),
		},
	}
}

// Validate rejects configurations that are unsafe to run in production.
func (c *Config) Validate() error {
	if c.Environment == "production" && c.JWTSecret == "change-me-in-production" {
		return errors.New("config: JWT_SECRET must be set in production")
	}
	if c.Environment == "production" && c.Media.APIKey == "" {
		return errors.New("config: MEDIA_API_KEY is required in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
