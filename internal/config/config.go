package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                string
	DatabaseDSN         string
	JWTSecret           string
	Env                 string
	LogLevel            string
	HistoryDefaultLimit int
	HistoryMaxLimit     int
	TypingTimeout       time.Duration
	SendBuffer          int
	RedisAddr           string
	RedisChannel        string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数配置，缺失或非法时回退默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                getenv("APP_PORT", "8080"),
		DatabaseDSN:         getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=geocluster port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:           getenv("JWT_SECRET", defaultJWTSecret),
		Env:                 getenv("APP_ENV", "dev"),
		LogLevel:            getenv("LOG_LEVEL", ""),
		HistoryDefaultLimit: getenvInt("HISTORY_DEFAULT_LIMIT", 50),
		HistoryMaxLimit:     getenvInt("HISTORY_MAX_LIMIT", 200),
		TypingTimeout:       time.Duration(getenvInt("TYPING_TIMEOUT_MS", 3000)) * time.Millisecond,
		SendBuffer:          getenvInt("WS_SEND_BUFFER", 256),
		RedisAddr:           getenv("REDIS_ADDR", ""),
		RedisChannel:        getenv("REDIS_CHANNEL", "groupchat:events"),
	}
}

// Validate 在启动前拒绝明显错误的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: JWT_SECRET must be changed outside dev")
	}
	if cfg.HistoryDefaultLimit < 0 || cfg.HistoryMaxLimit < 0 || cfg.HistoryDefaultLimit > cfg.HistoryMaxLimit {
		return errors.New("config: invalid history limits")
	}
	if cfg.TypingTimeout < 0 || cfg.SendBuffer < 0 {
		return errors.New("config: invalid websocket settings")
	}
	return nil
}
