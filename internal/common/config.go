package common

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration, read from the environment with an
// optional .env file.
type Config struct {
	ListenAddr   string
	DatabaseURL  string
	KafkaBrokers []string
	LogLevel     string
}

// LoadConfig reads configuration from a .env file (if present) and the
// process environment. A missing .env file is not an error.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
