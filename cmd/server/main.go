package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/chat"
	"github.com/example/ride-booking/internal/config"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/gateway"
	"github.com/example/ride-booking/internal/geo"
	httpapi "github.com/example/ride-booking/internal/http"
	"github.com/example/ride-booking/internal/identity"
	"github.com/example/ride-booking/internal/ingest"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/matcher"
	"github.com/example/ride-booking/internal/payments"
	"github.com/example/ride-booking/internal/pricing"
	"github.com/example/ride-booking/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	var locator geo.Locator = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		locator = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		logger.Info("location index on redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}

	hub := gateway.NewHub(cfg.GatewayBuffer, logger)
	defer hub.Close()
	sinks := events.Multi{hub}

	dir := &identity.Directory{
		Store:   store,
		Tokens:  identity.NewTokens(cfg.JWTSecret, cfg.JWTTTL),
		Locator: locator,
		Logger:  logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaLocationTopic)
		defer kp.Close()
		sinks = append(sinks, kp)
		dir.Pings = kp
		logger.Info("kafka sinks enabled", "brokers", cfg.KafkaBrokers)
	}
	notify := &events.Notifier{Publisher: sinks, Logger: logger}

	var pay payments.Provider = payments.NewCash()
	if cfg.StripeAPIKey != "" {
		pay = payments.NewStripeClient(cfg.StripeAPIKey)
	} else {
		logger.Info("no STRIPE_API_KEY, settling payments in the cash ledger")
	}

	if cfg.AdminEmail != "" {
		if err := dir.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	}

	chats := &chat.Service{Bookings: store, Chats: store, Notify: notify, Logger: logger}
	ws := &gateway.Handler{
		Hub: hub,
		Authenticate: func(ctx context.Context, token string) (string, error) {
			u, err := dir.Authenticate(ctx, token)
			if err != nil {
				return "", err
			}
			return u.ID, nil
		},
		CanJoin:  chats.CanJoin,
		Upgrader: websocket.Upgrader{CheckOrigin: originChecker(cfg.WSAllowedOrigins)},
		Logger:   logger,
	}

	api := httpapi.NewServer(httpapi.Deps{
		Directory: dir,
		Bookings: &booking.Engine{
			Bookings: store,
			Drivers:  store,
			Actors:   dir,
			Pricer:   pricing.NewEstimator(rand.NewSource(time.Now().UnixNano()), cfg.PricePerKm),
			Payments: pay,
			Currency: cfg.PaymentCurrency,
			Notify:   notify,
			Logger:   logger,
		},
		Matcher:        &matcher.Service{Bookings: store, Drivers: store, Actors: dir, Notify: notify, Logger: logger},
		Chat:           chats,
		Gateway:        ws,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      httpapi.RateLimit{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst, TrustProxy: cfg.TrustProxy},
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-booking listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				_ = ps.Close(ctx)
				return nil, err
			}
			logger.Info("migrations applied")
		}
		return ps, nil
	case config.BackendMongo:
		ms, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return ms, nil
	}
	logger.Warn("using in-memory store; data is lost on restart")
	return storage.NewMemoryStore(), nil
}

// originChecker allows any origin when the list is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}
