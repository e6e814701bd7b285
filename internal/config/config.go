package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LockTimeout     time.Duration
	ShoppingListTTL time.Duration
	EventChannel    string
	LogLevel        string
}

// Load reads configuration from the environment. Empty DATABASE_URL means
// run on the in-memory store; empty REDIS_ADDR disables the cache and the
// pub/sub publisher.
func Load() Config {
	return Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		LockTimeout:     time.Duration(getEnvInt("LOCK_TIMEOUT_MS", 3000)) * time.Millisecond,
		ShoppingListTTL: time.Duration(getEnvInt("SHOPPING_LIST_TTL_SECONDS", 30)) * time.Second,
		EventChannel:    getEnv("EVENT_CHANNEL", "bakeledger.events"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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
