package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	BranchID              string
	AuthSecret            string
	AccessTokenTTLMinutes int
	IdleTimeoutSeconds    int
	UpstreamTimeoutMS     int
	PendingEditTTLMinutes int
	StockFailClosed       bool
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	idleTimeout, err := strconv.Atoi(getEnv("IDLE_TIMEOUT_SECONDS", "180"))
	if err != nil || idleTimeout < 1 {
		idleTimeout = 180
	}
	upstreamTimeout, err := strconv.Atoi(getEnv("UPSTREAM_TIMEOUT_MS", "3000"))
	if err != nil || upstreamTimeout < 1 {
		upstreamTimeout = 3000
	}
	editTTL, err := strconv.Atoi(getEnv("PENDING_EDIT_TTL_MINUTES", "15"))
	if err != nil || editTTL < 1 {
		editTTL = 15
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		BranchID:              getEnv("DEFAULT_BRANCH_ID", "main-branch"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		IdleTimeoutSeconds:    idleTimeout,
		UpstreamTimeoutMS:     upstreamTimeout,
		PendingEditTTLMinutes: editTTL,
		StockFailClosed:       strings.EqualFold(strings.TrimSpace(os.Getenv("STOCK_FAIL_CLOSED")), "true"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
