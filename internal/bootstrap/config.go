package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"shoplist-sync/internal/hub"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser          string
	DBPassword      string
	DBHost          string
	DBPort          string
	DBName          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KeyPrefix       string // Redis Key 前缀
	JWTSecret       string
	JWTExpiryHours  int
	ServerPort      string
	LogLevel        string
	AppEnv          string // development / production
	AllowedOrigins  []string
	RateLimitMax    int
	RateLimitWindow time.Duration
	NatsURL         string // 为空时通知只记录日志
	OTLPEndpoint    string // 为空时不导出指标
	Hub             hub.Options
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	opts := hub.DefaultOptions()
	cfg := &Config{
		DBUser:          os.Getenv("DB_USER"),
		DBPassword:      os.Getenv("DB_PASSWORD"),
		DBHost:          os.Getenv("DB_HOST"),
		DBPort:          os.Getenv("DB_PORT"),
		DBName:          os.Getenv("DB_NAME"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0),
		KeyPrefix:       envString("REDIS_KEY_PREFIX", "sl:"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTExpiryHours:  envInt("JWT_EXPIRY_HOURS", 24),
		ServerPort:      envString("SERVER_PORT", "25530"),
		LogLevel:        envString("LOG_LEVEL", "info"),
		AppEnv:          envString("APP_ENV", "development"),
		AllowedOrigins:  envList("CORS_ALLOWED_ORIGIN"),
		RateLimitMax:    envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: envDuration("RATE_LIMIT_WINDOW", time.Second),
		NatsURL:         os.Getenv("NATS_URL"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	opts.IdleTimeout = envDuration("WS_IDLE_TIMEOUT", opts.IdleTimeout)
	opts.PingPeriod = envDuration("WS_PING_PERIOD", opts.PingPeriod)
	opts.ViolationLimit = envInt("WS_VIOLATION_LIMIT", opts.ViolationLimit)
	opts.SendBuffer = envInt("WS_SEND_BUFFER", opts.SendBuffer)
	opts.EvictionGrace = envDuration("ROOM_EVICTION_GRACE", opts.EvictionGrace)
	opts.AppendQueueMax = envInt("ROOM_APPEND_QUEUE_MAX", opts.AppendQueueMax)
	opts.AppendRetryBudget = envInt("ROOM_APPEND_RETRY_BUDGET", opts.AppendRetryBudget)
	if opts.PingPeriod >= opts.IdleTimeout {
		logrus.Warnf("WS_PING_PERIOD (%s) must be shorter than WS_IDLE_TIMEOUT (%s), using %s",
			opts.PingPeriod, opts.IdleTimeout, opts.IdleTimeout*9/10)
		opts.PingPeriod = opts.IdleTimeout * 9 / 10
	}
	cfg.Hub = opts

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logrus.Warnf("Invalid %s '%s', using default %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logrus.Warnf("Invalid %s '%s', using default %s", key, v, def)
		return def
	}
	return d
}

// envList 解析逗号分隔的列表，忽略空项。
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
