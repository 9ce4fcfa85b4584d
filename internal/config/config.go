// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Storage backends accepted by STORE_BACKEND.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

// Config is the typed view of the environment.
type Config struct {
	Port     string `mapstructure:"PORT"`
	GRPCPort string `mapstructure:"GRPC_PORT"`

	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	MongoURI      string `mapstructure:"MONGODB_URI"`
	MongoDatabase string `mapstructure:"MONGODB_DATABASE"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	// SessionSecret signs session cookies. SessionKeys (kid:secret,...)
	// takes precedence and allows rotation.
	SessionSecret    string `mapstructure:"SESSION_SECRET"`
	SessionKeys      string `mapstructure:"SESSION_KEYS"`
	SessionActiveKid string `mapstructure:"SESSION_ACTIVE_KID"`

	RateLimitRPM      int `mapstructure:"RATE_LIMIT_RPM"`
	SendRatePerMinute int `mapstructure:"SEND_RATE_PER_MINUTE"`

	StrictJoin bool `mapstructure:"STRICT_JOIN"`

	// TLS for the gRPC listener; RequireTLS refuses to start without it.
	TLSCert    string `mapstructure:"TLS_CERT"`
	TLSKey     string `mapstructure:"TLS_KEY"`
	RequireTLS bool   `mapstructure:"REQUIRE_TLS"`

	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Default returns the configuration used when nothing is set: in-memory
// demo mode on port 8000.
func Default() Config {
	return Config{
		Port:              "8000",
		GRPCPort:          "50051",
		StoreBackend:      BackendMemory,
		MongoDatabase:     "chat_db",
		RateLimitRPM:      10,
		SendRatePerMinute: 120,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return Config{}, errors.Wrap(err, "config: load .env")
	}
	return FromEnv(environ())
}

// FromEnv decodes cfg from a KEY=value map, on top of Default().
func FromEnv(env map[string]string) (Config, error) {
	cfg := Default()

	input := make(map[string]interface{}, len(env))
	for k, v := range env {
		if strings.TrimSpace(v) == "" {
			continue
		}
		input[k] = strings.TrimSpace(v)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "config: new decoder")
	}
	if err := dec.Decode(input); err != nil {
		return Config{}, errors.Wrap(err, "config: decode environment")
	}

	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	return cfg, cfg.Validate()
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("config: STORE_BACKEND=mongo requires MONGODB_URI")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: STORE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return errors.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Port == "" {
		return errors.New("config: PORT must not be empty")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("config: TLS_CERT and TLS_KEY must be set together")
	}
	if c.RequireTLS && c.TLSCert == "" {
		return errors.New("config: REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return nil
}

// SigningKeys parses SESSION_KEYS ("kid:secret,kid2:secret2").
func (c Config) SigningKeys() (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(c.SessionKeys, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("config: invalid SESSION_KEYS entry %q", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

// GRPCEnabled reports whether the gRPC listener should start.
func (c Config) GRPCEnabled() bool {
	return c.GRPCPort != "" && c.GRPCPort != "0"
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
