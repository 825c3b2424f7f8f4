package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            string        `yaml:"port"`
	Environment     string        `yaml:"environment"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	JWTSecret       string        `yaml:"jwtSecret"`
	AdminPassword   string        `yaml:"adminPassword"`
	StaticDir       string        `yaml:"staticDir"`
	LogLevel        string        `yaml:"logLevel"`
	LogFormat       string        `yaml:"logFormat"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Relay           RelayConfig   `yaml:"relay"`
	ICE             ICEConfig     `yaml:"ice"`
	Redis           RedisConfig   `yaml:"redis"`
}

type RelayConfig struct {
	// DuplicateIdentity is "fanout" or "reject".
	DuplicateIdentity    string `yaml:"duplicateIdentity"`
	TrackCallDuration    bool   `yaml:"trackCallDuration"`
	SendBufferSize       int    `yaml:"sendBufferSize"`
	MaxMessageBytes      int64  `yaml:"maxMessageBytes"`
	MaxMessagesPerSecond int    `yaml:"maxMessagesPerSecond"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:            "80",
		Environment:     "development",
		AllowedOrigins:  []string{"*"},
		JWTSecret:       "change-me-in-production",
		StaticDir:       "static",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		Relay: RelayConfig{
			DuplicateIdentity:    "fanout",
			SendBufferSize:       256,
			MaxMessageBytes:      64 * 1024, // enough for SDP offers
			MaxMessagesPerSecond: 50,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
			DB:   0,
		},
	}
}

// Load reads the optional YAML file named by CONFIG_FILE, then applies
// environment overrides.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

// LoadFrom layers defaults, the YAML file at path (if any) and the variables
// visible through lookup, then validates the result.
func LoadFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat(cfg.Environment)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	c.Port = getEnv(lookup, "PORT", c.Port)
	c.Environment = getEnv(lookup, "ENVIRONMENT", c.Environment)
	if originsStr := getEnv(lookup, "ALLOWED_ORIGINS", ""); originsStr != "" {
		// Parse allowed origins (comma-separated)
		c.AllowedOrigins = splitCommaSeparated(originsStr)
	}
	c.JWTSecret = getEnv(lookup, "JWT_SECRET", c.JWTSecret)
	c.AdminPassword = getEnv(lookup, "ADMIN_PASSWORD", c.AdminPassword)
	c.StaticDir = getEnv(lookup, "STATIC_DIR", c.StaticDir)
	c.LogLevel = getEnv(lookup, "LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv(lookup, "LOG_FORMAT", c.LogFormat)

	var err error
	if c.ShutdownTimeout, err = getEnvDuration(lookup, "SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}

	c.Relay.DuplicateIdentity = getEnv(lookup, "DUPLICATE_IDENTITY", c.Relay.DuplicateIdentity)
	if c.Relay.TrackCallDuration, err = getEnvBool(lookup, "TRACK_CALL_DURATION", c.Relay.TrackCallDuration); err != nil {
		return err
	}
	if c.Relay.SendBufferSize, err = getEnvInt(lookup, "SEND_BUFFER_SIZE", c.Relay.SendBufferSize); err != nil {
		return err
	}
	maxBytes, err := getEnvInt(lookup, "MAX_MESSAGE_BYTES", int(c.Relay.MaxMessageBytes))
	if err != nil {
		return err
	}
	c.Relay.MaxMessageBytes = int64(maxBytes)
	if c.Relay.MaxMessagesPerSecond, err = getEnvInt(lookup, "MAX_MESSAGES_PER_SECOND", c.Relay.MaxMessagesPerSecond); err != nil {
		return err
	}

	c.ICE.ServersJSON = getEnv(lookup, envICEServersJSON, c.ICE.ServersJSON)
	if v := getEnv(lookup, envStunURLs, ""); v != "" {
		c.ICE.STUNURLs = splitCommaSeparated(v)
	}
	if v := getEnv(lookup, envTurnURLs, ""); v != "" {
		c.ICE.TURNURLs = splitCommaSeparated(v)
	}
	c.ICE.TURNUsername = getEnv(lookup, envTurnUsername, c.ICE.TURNUsername)
	c.ICE.TURNCredential = getEnv(lookup, envTurnCredential, c.ICE.TURNCredential)

	if c.Redis.Enabled, err = getEnvBool(lookup, "REDIS_ENABLED", c.Redis.Enabled); err != nil {
		return err
	}
	c.Redis.Host = getEnv(lookup, "REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv(lookup, "REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv(lookup, "REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt(lookup, "REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	return nil
}

// Validate checks enumerations and numeric ranges.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	switch c.Relay.DuplicateIdentity {
	case "fanout", "reject":
	default:
		return fmt.Errorf("invalid duplicate identity policy %q (want fanout or reject)", c.Relay.DuplicateIdentity)
	}
	if c.Relay.SendBufferSize <= 0 {
		return fmt.Errorf("send buffer size must be positive, got %d", c.Relay.SendBufferSize)
	}
	if c.Relay.MaxMessageBytes < 0 {
		return fmt.Errorf("max message bytes must not be negative, got %d", c.Relay.MaxMessageBytes)
	}
	if c.Relay.MaxMessagesPerSecond < 0 {
		return fmt.Errorf("max messages per second must not be negative, got %d", c.Relay.MaxMessagesPerSecond)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if _, err := c.ICEServers(); err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}
	return nil
}

// IsProduction reports whether the relay runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(lookup func(string) (string, bool), key, defaultValue string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(lookup func(string) (string, bool), key string, defaultValue int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func getEnvBool(lookup func(string) (string, bool), key string, defaultValue bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}

func getEnvDuration(lookup func(string) (string, bool), key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
