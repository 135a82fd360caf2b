package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "AGENTGATE_"

var errReadBytesNotSupported = errors.New("config: map provider does not support ReadBytes")

// mapProvider feeds an in-memory nested map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) { return nil, errReadBytesNotSupported }
func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// Loader assembles a Config. It is safe to call Load repeatedly; each call
// starts from a fresh koanf instance.
type Loader struct {
	envPrefix string
	filePath  string
	flags     map[string]any
	logger    *slog.Logger
	file      *file.File
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix overrides DefaultEnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML file to read.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithFlags sets explicit overrides keyed by dotted config path, typically
// the command-line flags the user actually set.
func WithFlags(values map[string]any) Option {
	return func(l *Loader) { l.flags = values }
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader returns a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Load reads every source, unmarshals over Default and validates.
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")

	if legacy := legacyEnv(os.LookupEnv); len(legacy) > 0 {
		if err := k.Load(mapProvider(legacy), nil); err != nil {
			return nil, fmt.Errorf("load legacy env: %w", err)
		}
	}
	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if len(l.flags) > 0 {
		if err := k.Load(mapProvider(nest(l.flags)), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey maps AGENTGATE_SERVICE_REPLAY_RETENTION to service.replay_retention:
// the first underscore separates the section, the rest belong to the key.
func (l *Loader) envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Watch reloads the configuration whenever the file changes and passes each
// valid result to fn. Invalid reloads are logged and skipped. Watch returns
// an error when no file is configured.
func (l *Loader) Watch(fn func(*Config)) error {
	if l.filePath == "" {
		return errors.New("config: no file to watch")
	}
	l.file = file.Provider(l.filePath)
	return l.file.Watch(func(_ any, err error) {
		if err != nil {
			l.logger.Warn("config watch error", "path", l.filePath, "error", err)
			return
		}
		cfg, err := l.Load()
		if err != nil {
			l.logger.Warn("config reload rejected", "path", l.filePath, "error", err)
			return
		}
		l.logger.Info("config reloaded", "path", l.filePath)
		fn(cfg)
	})
}

// StopWatching ends a Watch.
func (l *Loader) StopWatching() {
	if l.file != nil {
		l.file.Unwatch()
	}
}

// legacyEnv translates the variable names of the original deployment into
// config paths.
func legacyEnv(lookup func(string) (string, bool)) map[string]any {
	flat := map[string]any{}
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	var accounts []any
	for _, legacy := range []struct{ user, pass, subject string }{
		{"DEMO_USER", "DEMO_PASS", LegacySubject},
		{"B2B_USER", "B2B_PASS", ""},
	} {
		user, pass := get(legacy.user), get(legacy.pass)
		if user == "" || pass == "" {
			continue
		}
		account := map[string]any{"username": user, "password": pass}
		if legacy.subject != "" {
			account["subject"] = legacy.subject
		}
		accounts = append(accounts, account)
	}
	if len(accounts) > 0 {
		flat["auth.accounts"] = accounts
	}

	var keys []any
	for _, name := range []string{"AIRIA_TOOL_TOKEN", "AIRIA_TOOL_TOKEN_NEXT"} {
		if v := get(name); v != "" {
			keys = append(keys, v)
		}
	}
	if len(keys) > 0 {
		flat["service.keys"] = keys
	}

	for name, path := range map[string]string{
		"JWT_SECRET":           "auth.jwt_secret",
		"AIRIA_AGENT_ENDPOINT": "agent.endpoint",
		"AIRIA_API_KEY":        "agent.api_key",
		"AIRIA_USER_ID":        "agent.user_id",
		"PORT":                 "server.port",
	} {
		if v := get(name); v != "" {
			flat[path] = v
		}
	}
	return nest(flat)
}

// nest expands dotted keys into nested maps.
func nest(flat map[string]any) map[string]any {
	out := map[string]any{}
	for key, v := range flat {
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := m[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				m[p] = child
			}
			m = child
		}
		m[parts[len(parts)-1]] = v
	}
	return out
}
