// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/review-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes may not be shadowed by the metrics endpoint.
var reservedRoutes = []string{"/api/review", "/healthz", "/status", "/_edge"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Region       string `kong:"help='AWS region (overrides config).',env='AWS_REGION'"`
	AgentID      string `kong:"help='Bedrock agent ID (overrides config).',env='BEDROCK_AGENT_ID'"`
	AgentAliasID string `kong:"help='Bedrock agent alias ID (overrides config).',env='AGENT_ALIAS_ID'"`
	SessionTable string `kong:"help='DynamoDB table for session records (overrides config).',env='SESSION_TABLE'"`
	OriginURL    string `kong:"help='Signed origin URL for the edge gateway (overrides config).',env='ORIGIN_URL'"`
	AccessKeyID  string `kong:"help='Static AWS access key ID (overrides config).',env='ACCESS_KEY_ID'"`
	SecretKey    string `kong:"help='Static AWS secret access key (overrides config).',env='SECRET_ACCESS_KEY'"`
	Lambda       bool   `kong:"help='Serve as a Lambda Function URL streaming handler instead of an HTTP server.',env='RELAY_LAMBDA'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Agent    AgentConfig    `toml:"agent"`
	Sessions SessionsConfig `toml:"sessions"`
	Edge     EdgeConfig     `toml:"edge"`
	AWS      AWSConfig      `toml:"aws"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// AgentConfig identifies the Bedrock agent the relay invokes.
// When AgentID and AgentAliasID are empty they are read from SSM under ParamPrefix.
type AgentConfig struct {
	Region              string `toml:"region"`
	AgentID             string `toml:"agent_id"`
	AgentAliasID        string `toml:"agent_alias_id"`
	ParamPrefix         string `toml:"param_prefix"`
	StreamFinalResponse *bool  `toml:"stream_final_response"`
	ChunkDelayMS        int    `toml:"chunk_delay_ms"`
}

// StreamsFinalResponse reports whether the agent should stream its final
// answer. Defaults to true.
func (a AgentConfig) StreamsFinalResponse() bool {
	return a.StreamFinalResponse == nil || *a.StreamFinalResponse
}

// SessionsConfig controls session record persistence. An empty Table disables it.
type SessionsConfig struct {
	Table    string `toml:"table"`
	TTLHours int    `toml:"ttl_hours"`
}

// EdgeConfig holds the edge gateway's origin settings.
type EdgeConfig struct {
	OriginURL       string   `toml:"origin_url"`
	SigningService  string   `toml:"signing_service"`
	Region          string   `toml:"region"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
	IdleConnections int      `toml:"idle_connections"`
	ForwardHeaders  []string `toml:"forward_headers"`
}

// AWSConfig holds optional static credentials. Lambda reserves the AWS_
// environment prefix, so they are read from ACCESS_KEY_ID and
// SECRET_ACCESS_KEY. When empty the SDK's default chain is used.
type AWSConfig struct {
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// HasStaticCredentials reports whether both static keys are set.
func (a AWSConfig) HasStaticCredentials() bool {
	return a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/review-gateway/config.toml then configs/config.toml. If none exists the
// defaults plus CLI and environment overrides are used, which is how the relay
// runs under the Lambda Web Adapter.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.Region != "" {
		c.Agent.Region = cli.Region
		if c.Edge.Region == "" {
			c.Edge.Region = cli.Region
		}
	}
	if cli.AgentID != "" {
		c.Agent.AgentID = cli.AgentID
	}
	if cli.AgentAliasID != "" {
		c.Agent.AgentAliasID = cli.AgentAliasID
	}
	if cli.SessionTable != "" {
		c.Sessions.Table = cli.SessionTable
	}
	if cli.OriginURL != "" {
		c.Edge.OriginURL = cli.OriginURL
	}
	if cli.AccessKeyID != "" {
		c.AWS.AccessKeyID = cli.AccessKeyID
	}
	if cli.SecretKey != "" {
		c.AWS.SecretAccessKey = cli.SecretKey
	}
}

func (c *Config) validate() error {
	// Origin URL: optional (relay-only deployments), but must be HTTPS when set.
	if c.Edge.OriginURL != "" {
		u, err := url.Parse(c.Edge.OriginURL)
		if err != nil {
			return fmt.Errorf("edge.origin_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("edge.origin_url must use HTTPS; got %q", c.Edge.OriginURL)
		}
		if u.Host == "" {
			return fmt.Errorf("edge.origin_url has no host; got %q", c.Edge.OriginURL)
		}
	}

	if (c.Agent.AgentID == "") != (c.Agent.AgentAliasID == "") {
		return fmt.Errorf("agent.agent_id and agent.agent_alias_id must be set together")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fmt.Errorf("aws.access_key_id and aws.secret_access_key must be set together")
	}
	if c.Agent.ParamPrefix != "" && !strings.HasPrefix(c.Agent.ParamPrefix, "/") {
		return fmt.Errorf("agent.param_prefix must start with '/'; got %q", c.Agent.ParamPrefix)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Agent.ChunkDelayMS < 0 {
		return fmt.Errorf("agent.chunk_delay_ms must be non-negative; got %d", c.Agent.ChunkDelayMS)
	}
	if c.Sessions.TTLHours < 0 {
		return fmt.Errorf("sessions.ttl_hours must be non-negative; got %d", c.Sessions.TTLHours)
	}
	if c.Edge.TimeoutSeconds < 0 {
		return fmt.Errorf("edge.timeout_seconds must be non-negative; got %d", c.Edge.TimeoutSeconds)
	}
	if c.Edge.IdleConnections < 0 {
		return fmt.Errorf("edge.idle_connections must be non-negative; got %d", c.Edge.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB, the CloudFront body limit for edge functions
	}
	if c.Sessions.TTLHours == 0 {
		c.Sessions.TTLHours = 24 * 30
	}
	if c.Edge.SigningService == "" {
		c.Edge.SigningService = "lambda"
	}
	if c.Edge.Region == "" {
		c.Edge.Region = c.Agent.Region
	}
	if c.Edge.TimeoutSeconds == 0 {
		c.Edge.TimeoutSeconds = 60
	}
	if c.Edge.IdleConnections == 0 {
		c.Edge.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
