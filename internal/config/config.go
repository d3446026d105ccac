package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RpcURL          string
	WsURL           string
	DbURL           string
	KafkaBroker     string
	KafkaTopic      string
	APIPort         int
	PaymentContract string

	// Listener settings
	Confirmations uint64
	ChunkSize     uint64
	IdleTimeout   time.Duration

	// Exchange rate settings
	RateSourceURL   string
	RefreshInterval time.Duration

	// Reconciliation settings
	AmountToleranceBP uint64
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	return &Config{
		RpcURL:            getEnvOrFatal("RPC_URL"),
		WsURL:             getEnvOrFatal("WS_URL"),
		DbURL:             getEnvOrFatal("DB_URL"),
		KafkaBroker:       getEnvOrFatal("KAFKA_BROKER"),
		KafkaTopic:        getEnvOrFatal("KAFKA_TOPIC"),
		APIPort:           getEnvInt("API_PORT", 8080),
		PaymentContract:   getEnvOrFatal("PAYMENT_CONTRACT_ADDRESS"),
		Confirmations:     getEnvUint64("CONFIRMATIONS", 12),
		ChunkSize:         getEnvUint64("CHUNK_SIZE", 100),
		IdleTimeout:       getEnvDuration("LISTENER_IDLE_TIMEOUT", 90*time.Second),
		RateSourceURL:     os.Getenv("RATE_SOURCE_URL"),
		RefreshInterval:   getEnvDuration("RATE_REFRESH_INTERVAL", 5*time.Minute),
		AmountToleranceBP: getEnvUint64("AMOUNT_TOLERANCE_BP", 100),
	}
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("environment variable %s not set", key)

	return ""
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
