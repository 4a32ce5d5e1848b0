// Package config loads server settings from a TOML file, an optional .env
// file and JSONRPC_* environment variables, and turns them into options for
// the server, transport and middleware packages.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
	"github.com/felixgeelhaar/jsonrpc-go/schema"
	"github.com/felixgeelhaar/jsonrpc-go/server"
	"github.com/felixgeelhaar/jsonrpc-go/transport"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ServerConfig holds dispatch settings.
type ServerConfig struct {
	Name              string   `toml:"name"`
	Version           string   `toml:"version"`
	ServerErrorCode   int      `toml:"serverErrorCode"`
	MaxDepth          int      `toml:"maxDepth"`
	ConcurrentBatches bool     `toml:"concurrentBatches"`
	DebugPayloads     bool     `toml:"debugPayloads"`
	Timeout           Duration `toml:"timeout"`
	MaxParamsSize     int64    `toml:"maxParamsSize"`
}

// HTTPConfig holds HTTP transport settings. An empty Addr disables it.
type HTTPConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"readTimeout"`
	WriteTimeout    Duration `toml:"writeTimeout"`
	MaxBodySize     int64    `toml:"maxBodySize"`
	ShutdownTimeout Duration `toml:"shutdownTimeout"`
	DrainDelay      Duration `toml:"drainDelay"`
	CORSOrigins     []string `toml:"corsOrigins"`
}

// WebSocketConfig holds WebSocket transport settings. An empty Addr
// disables it.
type WebSocketConfig struct {
	Addr         string   `toml:"addr"`
	ReadTimeout  Duration `toml:"readTimeout"`
	WriteTimeout Duration `toml:"writeTimeout"`
}

// StdioConfig holds stdio transport settings. An empty Service disables it.
type StdioConfig struct {
	Service     string `toml:"service"`
	MaxLineSize int    `toml:"maxLineSize"`
}

// LoggingConfig selects the slog handler and level.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// RateLimitConfig configures the token-bucket middleware. A zero Rate
// disables it.
type RateLimitConfig struct {
	Rate  int    `toml:"rate"`
	Burst int    `toml:"burst"`
	Key   string `toml:"key"` // "global", "method", "service" or "client"
}

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	HTTP      HTTPConfig      `toml:"http"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Stdio     StdioConfig     `toml:"stdio"`
	Logging   LoggingConfig   `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rateLimit"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "jsonrpc",
			Version:         "1.0.0",
			ServerErrorCode: protocol.DefaultServerErrorCode,
			MaxDepth:        schema.DefaultMaxDepth,
			Timeout:         Duration(30 * time.Second),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			MaxBodySize:     transport.DefaultMaxBodySize,
			ShutdownTimeout: Duration(5 * time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadTimeout:  Duration(60 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
		},
		Stdio: StdioConfig{
			MaxLineSize: transport.DefaultMaxLineSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(middleware.LogFormatJSON),
		},
		RateLimit: RateLimitConfig{
			Key: "global",
		},
	}
}

// Load reads the TOML file at path over the defaults, applies JSONRPC_*
// environment overrides and validates the result. Unknown keys are errors.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting that cannot be fixed by a default.
func (c *Config) Validate() error {
	if err := protocol.ValidateServerErrorCode(c.Server.ServerErrorCode); err != nil {
		return fmt.Errorf("%w: server.serverErrorCode: %v", ErrInvalid, err)
	}
	if c.Server.MaxDepth < 1 {
		return fmt.Errorf("%w: server.maxDepth must be positive, got %d", ErrInvalid, c.Server.MaxDepth)
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("%w: server.timeout must not be negative", ErrInvalid)
	}
	for name, addr := range map[string]string{"http.addr": c.HTTP.Addr, "websocket.addr": c.WebSocket.Addr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}
	if c.HTTP.MaxBodySize <= 0 {
		return fmt.Errorf("%w: http.maxBodySize must be positive", ErrInvalid)
	}
	if c.Stdio.MaxLineSize <= 0 {
		return fmt.Errorf("%w: stdio.maxLineSize must be positive", ErrInvalid)
	}
	switch middleware.LogFormat(strings.ToLower(c.Logging.Format)) {
	case middleware.LogFormatJSON, middleware.LogFormatText:
	default:
		return fmt.Errorf("%w: logging.format must be json or text, got %q", ErrInvalid, c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalid, c.Logging.Level)
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("%w: rateLimit rate and burst must not be negative", ErrInvalid)
	}
	switch c.RateLimit.Key {
	case "", "global", "method", "service", "client":
	default:
		return fmt.Errorf("%w: rateLimit.key %q", ErrInvalid, c.RateLimit.Key)
	}
	return nil
}

// Apply installs process-wide settings. Call it once at startup.
func (c *Config) Apply() error {
	return protocol.SetServerErrorCode(c.Server.ServerErrorCode)
}

// Logger builds the slog-backed logger described by the logging section.
func (c *Config) Logger(w io.Writer) *middleware.SlogLogger {
	return middleware.NewLogger(w, middleware.LogFormat(strings.ToLower(c.Logging.Format)), c.Logging.Level)
}

// Middleware returns the middleware stack described by the configuration:
// the default stack with the configured timeout, then size and rate limits.
func (c *Config) Middleware(logger middleware.Logger) []middleware.Middleware {
	var stack []middleware.Middleware
	if c.Server.Timeout > 0 {
		stack = middleware.DefaultStackWithTimeout(logger, time.Duration(c.Server.Timeout))
	} else {
		stack = middleware.DefaultStack(logger)
	}
	if c.Server.MaxParamsSize > 0 {
		stack = append(stack, middleware.SizeLimit(c.Server.MaxParamsSize, middleware.WithSizeLimitLogger(logger)))
	}

	if r := c.RateLimit; r.Rate > 0 {
		burst := r.Burst
		if burst == 0 {
			burst = r.Rate
		}
		opt := middleware.WithRateLimitLogger(logger)
		switch r.Key {
		case "method":
			stack = append(stack, middleware.RateLimitByMethod(r.Rate, burst, opt))
		case "service":
			stack = append(stack, middleware.RateLimitByService(r.Rate, burst, opt))
		case "client":
			stack = append(stack, middleware.RateLimitByClient(r.Rate, burst, middleware.ClientAddress, opt))
		default:
			stack = append(stack, middleware.RateLimit(r.Rate, burst, opt))
		}
	}
	return stack
}

// ServerOptions returns the server options described by the configuration.
func (c *Config) ServerOptions(logger middleware.Logger) []server.Option {
	routerOpts := []server.RouterOption{server.WithLogger(logger)}
	if c.Server.ConcurrentBatches {
		routerOpts = append(routerOpts, server.WithConcurrentBatches())
	}
	if c.Server.DebugPayloads {
		routerOpts = append(routerOpts, server.WithDebugPayloads())
	}
	return []server.Option{
		server.WithRegistryOptions(server.WithMaxDepth(c.Server.MaxDepth)),
		server.WithRouterOptions(routerOpts...),
	}
}

// NewServer builds a server with the configured options and middleware.
func (c *Config) NewServer(logger middleware.Logger) *server.Server {
	srv := server.New(server.Info{Name: c.Server.Name, Version: c.Server.Version}, c.ServerOptions(logger)...)
	srv.Use(c.Middleware(logger)...)
	return srv
}

// HTTPOptions returns the HTTP transport options.
func (c *Config) HTTPOptions(logger middleware.Logger) []transport.HTTPOption {
	opts := []transport.HTTPOption{
		transport.WithReadTimeout(time.Duration(c.HTTP.ReadTimeout)),
		transport.WithWriteTimeout(time.Duration(c.HTTP.WriteTimeout)),
		transport.WithMaxBodySize(c.HTTP.MaxBodySize),
		transport.WithShutdownTimeout(time.Duration(c.HTTP.ShutdownTimeout)),
		transport.WithShutdownDrainDelay(time.Duration(c.HTTP.DrainDelay)),
		transport.WithHTTPLogger(logger),
	}
	if len(c.HTTP.CORSOrigins) > 0 {
		cors := transport.DefaultCORSConfig()
		cors.AllowOrigins = c.HTTP.CORSOrigins
		opts = append(opts, transport.WithCORS(cors))
	}
	return opts
}

// WebSocketOptions returns the WebSocket transport options.
func (c *Config) WebSocketOptions(logger middleware.Logger) []transport.WebSocketOption {
	return []transport.WebSocketOption{
		transport.WithWebSocketReadTimeout(time.Duration(c.WebSocket.ReadTimeout)),
		transport.WithWebSocketWriteTimeout(time.Duration(c.WebSocket.WriteTimeout)),
		transport.WithWebSocketLogger(logger),
	}
}

// StdioOptions returns the stdio transport options.
func (c *Config) StdioOptions() []transport.StdioOption {
	return []transport.StdioOption{transport.WithMaxLineSize(c.Stdio.MaxLineSize)}
}
