package config

import (
	"os"
	"strconv"

	"go.uber.org/zap"
)

type Config struct {
	HTTPAddr      string
	RedisAddr     string
	RedisPoolSize int
	MySQLDSN      string
}

// Load reads configuration from the environment, falling back to local
// development defaults. Malformed numeric values are logged and replaced by
// the default rather than aborting startup.
func Load(log *zap.Logger) Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize: getenvInt(log, "REDIS_POOL_SIZE", 100),
		MySQLDSN:      getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/seckill?parseTime=true"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(log *zap.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("malformed integer in environment, using default",
			zap.String("key", key), zap.String("value", v), zap.Int("default", fallback))
		return fallback
	}
	return n
}
