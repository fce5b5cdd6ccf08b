package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/config"
	"github.com/example/ride-booking/internal/geo"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rc.Close()
	locator := geo.NewRedisGeo(rc, cfg.RedisGeoKey)

	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: healthMux(rc), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	c := &consumer{locator: locator, attempts: cfg.TagAttempts, delay: cfg.TagBackoff, logger: logger}
	c.run(ctx, r)
	logger.Info("shutting down consumer")
}

func healthMux(rc *redis.Client) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type consumer struct {
	locator  geo.Locator
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

func (c *consumer) run(ctx context.Context, r messageReader) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		c.handle(ctx, m)
	}
}

func (c *consumer) handle(ctx context.Context, m kafka.Message) {
	observability.ConsumerMessages.WithLabelValues("consumed").Inc()
	loc, err := decodePing(m)
	if err != nil {
		observability.ConsumerMessages.WithLabelValues("invalid").Inc()
		c.logger.Warn("invalid location ping", "offset", m.Offset, "error", err)
		return
	}
	if err := tagWithRetry(ctx, c.locator, loc, c.attempts, c.delay); err != nil {
		observability.ConsumerTagErrors.Inc()
		c.logger.Error("location tag failed", "driver_id", loc.ID, "error", err)
		return
	}
	observability.ConsumerMessages.WithLabelValues("tagged").Inc()
}

// decodePing parses and validates one message. The Kafka timestamp stands
// in for a missing ping time.
func decodePing(m kafka.Message) (models.DriverLocation, error) {
	var loc models.DriverLocation
	if err := json.Unmarshal(m.Value, &loc); err != nil {
		return loc, err
	}
	if loc.ID == "" {
		return loc, errors.New("driver id is required")
	}
	if err := geo.Validate(loc.Loc); err != nil {
		return loc, err
	}
	if loc.Updated.IsZero() {
		loc.Updated = m.Time
	}
	return loc, nil
}

// tagWithRetry retries transient index failures with doubling delay.
// Invalid pings are not retried.
func tagWithRetry(ctx context.Context, l geo.Locator, loc models.DriverLocation, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = l.Tag(ctx, loc); err == nil || apperr.Is(err, apperr.InvalidArgument) {
			return err
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
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
