package config

import (
	"os"
	"strconv"
	"time"
)

// Ledger backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds server configuration.
type Config struct {
	Port       string
	HealthPort string
	LogLevel   string

	DatabaseURL   string
	LedgerBackend string
	LedgerPath    string

	// SigningSecret is the raw HMAC secret. It is never logged.
	SigningSecret []byte
	SigningKeyID  string

	NonceTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   float64
	RateLimitBurst int

	JurisdictionsFile string

	OTelEnabled  bool
	OTelEndpoint string

	Production bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	healthPort := os.Getenv("HEALTH_PORT")
	if healthPort == "" {
		healthPort = "8081"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")

	backend := os.Getenv("LEDGER_BACKEND")
	if backend == "" {
		// Postgres when a database is configured, otherwise lite mode.
		backend = BackendSQLite
		if dbURL != "" {
			backend = BackendPostgres
		}
	}

	ledgerPath := os.Getenv("LEDGER_PATH")
	if ledgerPath == "" {
		switch backend {
		case BackendFile:
			ledgerPath = "data/ledger.jsonl"
		case BackendSQLite:
			ledgerPath = "data/nyaya.db"
		}
	}

	keyID := os.Getenv("SIGNING_KEY_ID")
	if keyID == "" {
		keyID = "primary-key-2025"
	}

	var secret []byte
	if s := os.Getenv("HMAC_SECRET_KEY"); s != "" {
		secret = []byte(s)
	}

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	return &Config{
		Port:              port,
		HealthPort:        healthPort,
		LogLevel:          logLevel,
		DatabaseURL:       dbURL,
		LedgerBackend:     backend,
		LedgerPath:        ledgerPath,
		SigningSecret:     secret,
		SigningKeyID:      keyID,
		NonceTTL:          time.Duration(envInt("NONCE_TTL_SECONDS", 600)) * time.Second,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		RateLimitRPS:      envFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:    envInt("RATE_LIMIT_BURST", 100),
		JurisdictionsFile: os.Getenv("JURISDICTIONS_FILE"),
		OTelEnabled:       os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:      otelEndpoint,
		Production:        os.Getenv("NYAYA_PRODUCTION") == "true",
	}
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
