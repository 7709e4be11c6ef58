package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/socket"
	"github.com/example/ride-dispatch/internal/storage"
)

// store is what the broker needs from the ride/driver database.
type store interface {
	presence.RideStore
	presence.LocationStore
	httpapi.Pinger
}

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("dispatch-server", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PGDSN != "" && cfg.RunMigrations {
		migrate(cfg.PGDSN, logger)
	}

	var st store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer ps.Close()
		st = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory ride store")
		st = storage.NewMemoryStore()
	}
	ready := []httpapi.Pinger{st}

	var index geo.Geo
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		rg := geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		index = rg
		ready = append(ready, rg)
	} else {
		index = geo.NewIndex()
	}

	bcfg := presence.Config{
		Rides:        st,
		Locations:    st,
		Index:        index,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
	}
	if cfg.BroadcastScope == config.ScopeAll {
		bcfg.BroadcastScope = presence.ScopeAll
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		bcfg.Publisher = kp
	}

	broker := presence.New(bcfg)
	brokerDone := make(chan struct{})
	go func() {
		defer close(brokerDone)
		broker.Run(ctx)
	}()

	estimator := &eta.Estimator{
		Cache:    eta.NewCache(cfg.ETACacheTTL),
		SpeedMps: cfg.ETASpeedMps,
		Logger:   logger,
	}
	if cfg.OSRMURL != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMURL)
	}

	api := httpapi.NewServer(httpapi.Options{
		Broker:        broker,
		Geo:           index,
		ETA:           estimator,
		Ready:         ready,
		NearbyRadiusM: cfg.NearbyRadiusM,
		SocketOptions: socket.Options{
			SendBuffer:      cfg.WSSendBuffer,
			MaxMessageBytes: cfg.WSMaxMessageBytes,
			PongWait:        cfg.WSPongWait,
			WriteWait:       cfg.WSWriteWait,
		},
		AllowedOrigins: cfg.WSAllowedOrigins,
		Logger:         logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dispatch server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			stop()
			<-brokerDone
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	<-brokerDone
	return nil
}

// migrate applies migrations/001_create_rides.sql when MIGRATE=true.
func migrate(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_rides.sql")
}
