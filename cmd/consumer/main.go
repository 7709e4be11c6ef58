// Command consumer materializes the driver-locations topic into the Redis
// GEO index, so dispatch servers that only publish still answer nearby
// queries from fresh positions.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger("location-consumer", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	index := geo.NewRedisGeo(rc, cfg.RedisGeoKey)

	go serveMetrics(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, index, logger)
}

func serveMetrics(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", 503)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// MessageReader is the part of kafka.Reader the loop uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// LocationWriter is the part of the geo index the loop uses.
type LocationWriter interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
}

func consume(ctx context.Context, r MessageReader, w LocationWriter, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		loc, err := ingest.DecodeLocation(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err, "offset", m.Offset)
			continue
		}

		if err := upsertWithRetry(ctx, w, loc, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis update failed", "driver_id", loc.DriverID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// upsertWithRetry writes one location with exponential backoff between attempts.
func upsertWithRetry(ctx context.Context, w LocationWriter, loc models.DriverLocation, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.Upsert(ctx, loc); err == nil {
			return nil
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
