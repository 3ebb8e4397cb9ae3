package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	// AuthSecret signs session JWTs. Override in any real deployment.
	AuthSecret string
	TokenTTL   time.Duration

	CORSOrigins []string

	// Bootstrap admin, created on first start if missing.
	AdminUser string
	AdminPass string

	// SweepInterval drives the deadline sweeper (forced submission of timed
	// attempts, auto-close of ended exams). Zero disables it.
	SweepInterval time.Duration
}

func FromEnv() Config {
	return Config{
		HTTPAddr:      envOr("HTTP_ADDR", ":8080"),
		DBDriver:      envOr("DB_DRIVER", "sqlite"),
		DBDSN:         envOr("DB_DSN", ""),
		AuthSecret:    envOr("AUTH_HMAC_SECRET", "examportal-dev-key"),
		TokenTTL:      envDuration("TOKEN_TTL", 8*time.Hour),
		CORSOrigins:   csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPass:     envOr("ADMIN_PASS", "admin"),
		SweepInterval: envDuration("SWEEP_INTERVAL", 30*time.Second),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
