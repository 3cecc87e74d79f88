package config

import (
	"fmt"
	"os"
)

// Config holds the process configuration, read from the environment.
// A .env file, if present, is loaded by main before this runs.
type Config struct {
	Port        string
	DatabaseURL string
	Env         string
}

func Load() (Config, error) {
	cfg := Config{
		Port:        getenv("PORT", "3000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Env:         getenv("APP_ENV", "production"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c Config) Dev() bool { return c.Env == "development" }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
