package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultInstrumentIDs is the default CoinGecko instrument universe,
// overridable via INSTRUMENT_IDS.
var DefaultInstrumentIDs = []string{
	"stellar", "ripple", "polkadot", "ethereum", "chainlink", "bitcoin",
	"litecoin", "dogecoin", "cardano", "solana", "binancecoin", "tether",
	"usd-coin", "wrapped-bitcoin", "uniswap", "tron",
}

// Config holds all runtime configuration.
type Config struct {
	Port        string
	Environment string

	CoinGeckoBaseURL string
	InstrumentIDs    []string
	CacheTTL         time.Duration
	UpdateInterval   time.Duration

	AllowedOrigin string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	MongoURI string
}

// LoadConfig loads environment variables into a Config.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		CoinGeckoBaseURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
		InstrumentIDs:    getEnvList("INSTRUMENT_IDS", DefaultInstrumentIDs),
		CacheTTL:         time.Duration(getEnvInt("CACHE_TTL_SECONDS", 60)) * time.Second,
		UpdateInterval:   time.Duration(getEnvInt("UPDATE_INTERVAL_SECONDS", 10)) * time.Second,
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", "http://localhost:5173"),
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		MongoURI:         getEnv("MONGODB_URI", ""),
	}

	return cfg, nil
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("Invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvList gets a comma-separated environment variable or returns a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
