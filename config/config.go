// Package config loads agentgate settings from defaults, legacy environment
// variables, a YAML file, AGENTGATE_* environment variables and command-line
// flags, in increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmcleod/agentgate/auth"
	"github.com/jmcleod/agentgate/internal/util"
)

// LegacySubject is the token subject of the DEMO_USER account from the
// original deployment's environment.
const LegacySubject = "demo-user-1"

// Storage drivers.
const (
	DriverJSONFile = "jsonfile"
	DriverBBolt    = "bbolt"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Service  ServiceConfig  `koanf:"service"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Agent    AgentConfig    `koanf:"agent"`
	Storage  StorageConfig  `koanf:"storage"`
	Audit    AuditConfig    `koanf:"audit"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	TrustedProxies  []string      `koanf:"trusted_proxies"`
	TLSCert         string        `koanf:"tls_cert"`
	TLSKey          string        `koanf:"tls_key"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret      string          `koanf:"jwt_secret"`
	TokenTTL       time.Duration   `koanf:"token_ttl"`
	ProtectRecords bool            `koanf:"protect_records"`
	Accounts       []AccountConfig `koanf:"accounts"`
}

// AccountConfig is one login. Password is a development convenience and is
// hashed at load time; PasswordHash wins when both are set.
type AccountConfig struct {
	Username     string `koanf:"username"`
	Subject      string `koanf:"subject"`
	PasswordHash string `koanf:"password_hash"`
	Password     string `koanf:"password"`
}

type ServiceConfig struct {
	Header          string        `koanf:"header"`
	Keys            []string      `koanf:"keys"`
	Freshness       time.Duration `koanf:"freshness"`
	Idempotency     bool          `koanf:"idempotency"`
	ReplayRetention time.Duration `koanf:"replay_retention"`
	ReplaySweep     time.Duration `koanf:"replay_sweep"`
	ReplayCapacity  int           `koanf:"replay_capacity"`
}

type RealtimeConfig struct {
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`
}

type AgentConfig struct {
	Endpoint string  `koanf:"endpoint"`
	APIKey   string  `koanf:"api_key"`
	UserID   string  `koanf:"user_id"`
	RPS      float64 `koanf:"rps"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"`
	Dir    string `koanf:"dir"`
	// DSN is the PostgreSQL connection string for the postgres driver.
	DSN string `koanf:"dsn"`
}

type AuditConfig struct {
	WebhookURL    string `koanf:"webhook_url"`
	WebhookHeader string `koanf:"webhook_header"`
}

// Default returns the configuration used before any source is applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8787,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:       auth.DefaultTokenTTL,
			ProtectRecords: false,
		},
		Service: ServiceConfig{
			Header:          "x-api-key",
			Freshness:       5 * time.Minute,
			Idempotency:     true,
			ReplayRetention: time.Hour,
			ReplaySweep:     5 * time.Minute,
			ReplayCapacity:  100_000,
		},
		Realtime: RealtimeConfig{
			RateLimit:  15,
			RateWindow: 5 * time.Second,
		},
		Agent: AgentConfig{
			RPS: 5,
		},
		Storage: StorageConfig{
			Driver: DriverJSONFile,
			Dir:    "datasource",
		},
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if len(c.Auth.Accounts) == 0 {
		errs = append(errs, errors.New("at least one entry in auth.accounts is required"))
	}
	for i, a := range c.Auth.Accounts {
		if strings.TrimSpace(a.Username) == "" {
			errs = append(errs, fmt.Errorf("auth.accounts[%d]: username is required", i))
		}
		if a.PasswordHash == "" && a.Password == "" {
			errs = append(errs, fmt.Errorf("auth.accounts[%d]: password_hash or password is required", i))
		}
	}
	if len(c.ServiceKeys()) == 0 {
		errs = append(errs, errors.New("at least one entry in service.keys is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Realtime.RateLimit <= 0 || c.Realtime.RateWindow <= 0 {
		errs = append(errs, errors.New("realtime.rate_limit and realtime.rate_window must be positive"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if c.Service.Freshness < 0 {
		errs = append(errs, errors.New("service.freshness must not be negative"))
	}
	switch c.Storage.Driver {
	case DriverJSONFile, DriverBBolt:
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required"))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// ServiceKeys returns the configured keys with blanks removed.
func (c *Config) ServiceKeys() []string {
	keys := make([]string, 0, len(c.Service.Keys))
	for _, k := range c.Service.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// AuthAccounts converts the configured accounts, hashing plaintext
// passwords. An account without a subject uses its normalized username.
func (c *Config) AuthAccounts() ([]auth.Account, error) {
	out := make([]auth.Account, 0, len(c.Auth.Accounts))
	for _, a := range c.Auth.Accounts {
		hash := a.PasswordHash
		if hash == "" {
			var err error
			hash, err = auth.HashPassword(a.Password)
			if err != nil {
				return nil, fmt.Errorf("hashing password for %q: %w", a.Username, err)
			}
		}
		subject := a.Subject
		if subject == "" {
			subject = util.Normalize(a.Username)
		}
		out = append(out, auth.Account{
			Username:     a.Username,
			SubjectID:    subject,
			PasswordHash: hash,
		})
	}
	return out, nil
}
