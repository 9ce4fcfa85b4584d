package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(map[string]string{})
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Port != "8000" || cfg.StoreBackend != BackendMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.GRPCEnabled() {
		t.Fatalf("expected gRPC enabled by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(map[string]string{
		"PORT":                 "9000",
		"GRPC_PORT":            "0",
		"STORE_BACKEND":        "MONGO",
		"MONGODB_URI":          "mongodb://localhost:27017",
		"RATE_LIMIT_RPM":       "25",
		"STRICT_JOIN":          "true",
		"SHUTDOWN_TIMEOUT":     "3s",
		"SOMETHING_UNRELATED":  "ignored",
		"SEND_RATE_PER_MINUTE": " ",
	})
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Port != "9000" || cfg.StoreBackend != BackendMongo || cfg.RateLimitRPM != 25 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.StrictJoin {
		t.Fatalf("expected StrictJoin=true")
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.SendRatePerMinute != 120 {
		t.Fatalf("blank value should keep default, got %d", cfg.SendRatePerMinute)
	}
	if cfg.GRPCEnabled() {
		t.Fatalf("GRPC_PORT=0 should disable gRPC")
	}
}

func TestValidateBackendRequirements(t *testing.T) {
	if _, err := FromEnv(map[string]string{"STORE_BACKEND": "redis"}); err == nil {
		t.Fatal("expected error for redis backend without REDIS_URL")
	}
	if _, err := FromEnv(map[string]string{"STORE_BACKEND": "firebase"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := FromEnv(map[string]string{"REQUIRE_TLS": "true"}); err == nil {
		t.Fatal("expected error for REQUIRE_TLS without certificates")
	}
	if _, err := FromEnv(map[string]string{"TLS_CERT": "cert.pem"}); err == nil {
		t.Fatal("expected error for TLS_CERT without TLS_KEY")
	}
}

func TestSigningKeys(t *testing.T) {
	cfg := Default()
	cfg.SessionKeys = "k1:one, k2:two"
	keys, err := cfg.SigningKeys()
	if err != nil {
		t.Fatalf("SigningKeys failed: %v", err)
	}
	if keys["k1"] != "one" || keys["k2"] != "two" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	cfg.SessionKeys = "broken"
	if _, err := cfg.SigningKeys(); err == nil {
		t.Fatal("expected error for malformed entry")
	}
}
