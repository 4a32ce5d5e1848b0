package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "JSONRPC_"

// EnvConfigFile names the variable holding the TOML file read by LoadEnv.
const EnvConfigFile = EnvPrefix + "CONFIG"

type envBinding struct {
	key string
	set func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"SERVER_NAME", func(c *Config, v string) error { c.Server.Name = v; return nil }},
	{"SERVER_VERSION", func(c *Config, v string) error { c.Server.Version = v; return nil }},
	{"SERVER_ERROR_CODE", intVar(func(c *Config) *int { return &c.Server.ServerErrorCode })},
	{"MAX_DEPTH", intVar(func(c *Config) *int { return &c.Server.MaxDepth })},
	{"CONCURRENT_BATCHES", boolVar(func(c *Config) *bool { return &c.Server.ConcurrentBatches })},
	{"DEBUG_PAYLOADS", boolVar(func(c *Config) *bool { return &c.Server.DebugPayloads })},
	{"TIMEOUT", durationVar(func(c *Config) *Duration { return &c.Server.Timeout })},
	{"MAX_PARAMS_SIZE", int64Var(func(c *Config) *int64 { return &c.Server.MaxParamsSize })},
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
	{"HTTP_MAX_BODY_SIZE", int64Var(func(c *Config) *int64 { return &c.HTTP.MaxBodySize })},
	{"HTTP_SHUTDOWN_TIMEOUT", durationVar(func(c *Config) *Duration { return &c.HTTP.ShutdownTimeout })},
	{"HTTP_CORS_ORIGINS", func(c *Config, v string) error { c.HTTP.CORSOrigins = splitList(v); return nil }},
	{"WS_ADDR", func(c *Config, v string) error { c.WebSocket.Addr = v; return nil }},
	{"STDIO_SERVICE", func(c *Config, v string) error { c.Stdio.Service = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
	{"RATE_LIMIT", intVar(func(c *Config) *int { return &c.RateLimit.Rate })},
	{"RATE_LIMIT_BURST", intVar(func(c *Config) *int { return &c.RateLimit.Burst })},
	{"RATE_LIMIT_KEY", func(c *Config, v string) error { c.RateLimit.Key = v; return nil }},
}

// LoadEnv seeds the environment from envFiles (".env" when none are given;
// missing files are skipped and variables already set win), then loads the
// file named by JSONRPC_CONFIG, if set, or the defaults otherwise. JSONRPC_*
// overrides are applied last.
func LoadEnv(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		return Load(path)
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, b.key, err)
		}
	}
	return nil
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func int64Var(field func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationVar(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		return field(c).UnmarshalText([]byte(v))
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
