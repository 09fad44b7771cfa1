package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "CHATLOG"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultStoreBackend     = BackendSQLite
	defaultDatabasePath     = "chatlog.db"
	defaultStoreFilePath    = "chat.db"
	defaultStoreCapacity    = 20
	defaultStoreTailSize    = 10
	defaultRateLimitRPS     = 2.0
	defaultRateLimitBurst   = 5
	defaultLogLevel         = "info"
	defaultServerURL        = "http://127.0.0.1:8080"
	defaultClientStatePath  = "chatlog-client.yaml"
	defaultPollInterval     = 5 * time.Second
	defaultRequestTimeout   = 5 * time.Second
	defaultShutdownDeadline = 10 * time.Second
)

const (
	// BackendSQLite persists the log in a SQLite table.
	BackendSQLite = "sqlite"
	// BackendFile persists the log as a JSON array file.
	BackendFile = "file"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	StoreBackend     string
	DatabasePath     string
	StoreFilePath    string
	StoreCapacity    int
	StoreTailSize    int
	RateLimitRPS     float64
	RateLimitBurst   int
	LogLevel         string
	ShutdownDeadline time.Duration
}

// ClientConfig captures runtime configuration for the terminal client.
type ClientConfig struct {
	ServerURL      string
	StatePath      string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	LogLevel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.shutdown_deadline", defaultShutdownDeadline)
	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("store.file_path", defaultStoreFilePath)
	configViper.SetDefault("store.capacity", defaultStoreCapacity)
	configViper.SetDefault("store.tail_size", defaultStoreTailSize)
	configViper.SetDefault("ratelimit.rps", defaultRateLimitRPS)
	configViper.SetDefault("ratelimit.burst", defaultRateLimitBurst)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("server.url", defaultServerURL)
	configViper.SetDefault("client.state_path", defaultClientStatePath)
	configViper.SetDefault("client.poll_interval", defaultPollInterval)
	configViper.SetDefault("client.request_timeout", defaultRequestTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		StoreBackend:     strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		DatabasePath:     configViper.GetString("database.path"),
		StoreFilePath:    configViper.GetString("store.file_path"),
		StoreCapacity:    configViper.GetInt("store.capacity"),
		StoreTailSize:    configViper.GetInt("store.tail_size"),
		RateLimitRPS:     configViper.GetFloat64("ratelimit.rps"),
		RateLimitBurst:   configViper.GetInt("ratelimit.burst"),
		LogLevel:         configViper.GetString("log.level"),
		ShutdownDeadline: configViper.GetDuration("http.shutdown_deadline"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses the terminal client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:      strings.TrimRight(strings.TrimSpace(configViper.GetString("server.url")), "/"),
		StatePath:      configViper.GetString("client.state_path"),
		PollInterval:   configViper.GetDuration("client.poll_interval"),
		RequestTimeout: configViper.GetDuration("client.request_timeout"),
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case BackendFile:
		if strings.TrimSpace(c.StoreFilePath) == "" {
			return fmt.Errorf("store.file_path is required")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendSQLite, BackendFile, c.StoreBackend)
	}
	if c.StoreCapacity < 1 {
		return fmt.Errorf("store.capacity must be at least 1, got %d", c.StoreCapacity)
	}
	if c.StoreTailSize < 1 || c.StoreTailSize > c.StoreCapacity {
		return fmt.Errorf("store.tail_size must be between 1 and store.capacity (%d), got %d", c.StoreCapacity, c.StoreTailSize)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("ratelimit.rps must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("ratelimit.burst must be at least 1 when ratelimit.rps is set")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server.url is required")
	}
	if strings.TrimSpace(c.StatePath) == "" {
		return fmt.Errorf("client.state_path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("client.request_timeout must be positive")
	}
	return nil
}
