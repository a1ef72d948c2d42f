// Package config loads server configuration from the environment and
// policy/limit definitions from YAML files.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Addr     string
	LogLevel string

	// ProofStore selects the proof-chain backend: "memory", "sqlite",
	// or "postgres".
	ProofStore  string
	SQLitePath  string
	PostgresDSN string

	// RedisAddr enables the distributed velocity limiter when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWTSecret signs and verifies admin tokens.
	JWTSecret string

	// OTLPEndpoint enables trace/metric export when non-empty.
	OTLPEndpoint string

	// PolicyFile points at the YAML policy rule set; empty runs with the
	// built-in layers only.
	PolicyFile string

	ExecTimeout       time.Duration
	ExecMemoryLimitMB int64
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() *Config {
	return &Config{
		Addr:              getenv("COGNIGATE_ADDR", ":8080"),
		LogLevel:          getenv("COGNIGATE_LOG_LEVEL", "info"),
		ProofStore:        getenv("COGNIGATE_PROOF_STORE", "memory"),
		SQLitePath:        getenv("COGNIGATE_SQLITE_PATH", "cognigate.db"),
		PostgresDSN:       os.Getenv("COGNIGATE_POSTGRES_DSN"),
		RedisAddr:         os.Getenv("COGNIGATE_REDIS_ADDR"),
		RedisPassword:     os.Getenv("COGNIGATE_REDIS_PASSWORD"),
		RedisDB:           getenvInt("COGNIGATE_REDIS_DB", 0),
		JWTSecret:         os.Getenv("COGNIGATE_JWT_SECRET"),
		OTLPEndpoint:      os.Getenv("COGNIGATE_OTLP_ENDPOINT"),
		PolicyFile:        os.Getenv("COGNIGATE_POLICY_FILE"),
		ExecTimeout:       getenvDuration("COGNIGATE_EXEC_TIMEOUT", 30*time.Second),
		ExecMemoryLimitMB: int64(getenvInt("COGNIGATE_EXEC_MEMORY_MB", 128)),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
