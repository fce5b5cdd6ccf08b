package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123"

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory || cfg.HTTPAddr != ":8080" || cfg.PaymentCurrency != "idr" || cfg.TrustProxy {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("PG_DSN", "postgres://localhost/rides")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("TRUST_PROXY", "1")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != BackendPostgres || !cfg.RunMigrations || !cfg.TrustProxy || cfg.RequestTimeout != 2*time.Second {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("ADMIN_EMAIL", "root@example.com")
	t.Setenv("TRUST_PROXY", "maybe")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"HTTP_READ_TIMEOUT", "MONGO_URI", "JWT_SECRET", "ADMIN_PASSWORD", "TRUST_PROXY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_LOCATION_TOPIC", "pings")
	t.Setenv("TAG_ATTEMPTS", "0")
	cfg, err := LoadConsumerConfig()
	if err == nil || !strings.Contains(err.Error(), "TAG_ATTEMPTS") {
		t.Fatalf("expected attempts error, got %v", err)
	}
	if cfg.KafkaTopic != "pings" {
		t.Fatalf("topic %q", cfg.KafkaTopic)
	}
}
