package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Broadcast scopes for driver location fan-out.
const (
	ScopeAdmins = "admins"
	ScopeAll    = "all"
)

// ServerConfig captures all tunable parameters for the dispatch server.
// Values are loaded from environment variables, optionally seeded from a
// .env file, with defaults that let the binary run locally with no backing
// services at all.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	StoreTimeout   time.Duration
	BroadcastScope string
	NearbyRadiusM  float64

	OSRMURL     string
	ETASpeedMps float64
	ETACacheTTL time.Duration

	WSSendBuffer      int
	WSMaxMessageBytes int64
	WSPongWait        time.Duration
	WSWriteWait       time.Duration
	WSAllowedOrigins  []string

	LogLevel      string
	RunMigrations bool
}

// ConsumerConfig is the configuration of the location stream consumer.
type ConsumerConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	RedisGeoKey  string
	LogLevel     string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RedisGeoKey:       "drivers_geo",
		KafkaTopic:        "driver-locations",
		StoreTimeout:      3 * time.Second,
		BroadcastScope:    ScopeAdmins,
		NearbyRadiusM:     5000,
		ETASpeedMps:       8,
		ETACacheTTL:       30 * time.Second,
		WSSendBuffer:      256,
		WSMaxMessageBytes: 64 << 10,
		WSPongWait:        60 * time.Second,
		WSWriteWait:       10 * time.Second,
		LogLevel:          "info",
	}
}

// LoadServerConfig reads the server configuration. All parse errors are
// returned together so a bad deployment shows every mistake at once.
func LoadServerConfig() (ServerConfig, error) {
	loadDotEnv()
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.StoreTimeout, "STORE_TIMEOUT", &errs)
	if v := os.Getenv("LOCATION_BROADCAST_SCOPE"); v != "" {
		cfg.BroadcastScope = strings.ToLower(strings.TrimSpace(v))
	}
	setFloatFromEnv(&cfg.NearbyRadiusM, "NEARBY_RADIUS_M", &errs)

	cfg.OSRMURL = strings.TrimRight(strings.TrimSpace(os.Getenv("OSRM_URL")), "/")
	setFloatFromEnv(&cfg.ETASpeedMps, "ETA_SPEED_MPS", &errs)
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	setIntFromEnv(&cfg.WSSendBuffer, "WS_SEND_BUFFER", &errs)
	setInt64FromEnv(&cfg.WSMaxMessageBytes, "WS_MAX_MESSAGE_BYTES", &errs)
	setDurationFromEnv(&cfg.WSPongWait, "WS_PONG_WAIT", &errs)
	setDurationFromEnv(&cfg.WSWriteWait, "WS_WRITE_WAIT", &errs)
	if origins := os.Getenv("WS_ALLOWED_ORIGINS"); origins != "" {
		cfg.WSAllowedOrigins = splitAndTrim(origins)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.BroadcastScope != ScopeAdmins && cfg.BroadcastScope != ScopeAll {
		errs = append(errs, fmt.Errorf("LOCATION_BROADCAST_SCOPE must be %q or %q, got %q", ScopeAdmins, ScopeAll, cfg.BroadcastScope))
	}
	if cfg.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STORE_TIMEOUT must be > 0"))
	}
	if cfg.WSSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be > 0"))
	}
	if cfg.WSPongWait <= 0 {
		errs = append(errs, fmt.Errorf("WS_PONG_WAIT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// LoadConsumerConfig reads the consumer configuration.
func LoadConsumerConfig() (ConsumerConfig, error) {
	loadDotEnv()
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-locations",
		KafkaGroup:   "ride-dispatch-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		LogLevel:     "info",
	}

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		return cfg, errors.New("KAFKA_BROKERS must name at least one broker")
	}
	return cfg, nil
}

// loadDotEnv seeds the environment from .env when present. Variables that
// are already set win.
func loadDotEnv() {
	path := os.Getenv("DOTENV_PATH")
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
