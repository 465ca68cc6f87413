package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "NOTECOLLAB"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "notecollab.db"
	defaultLogLevel        = "info"
	defaultIssuer          = "notecollab-auth"
	defaultAudience        = "notecollab-api"
	defaultTokenTTLMinutes = 60
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultHistoryLimit    = 50
	defaultSendBuffer      = 64
	defaultInboxSize       = 256
	defaultEventsPerSecond = 20
	defaultEventBurst      = 40
	defaultPingPeriod      = 30 * time.Second
	defaultReadLimitBytes  = 64 * 1024
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	TokenIssuer    string
	TokenAudience  string
	TokenTTL       time.Duration
	AllowedOrigins []string
	Realtime       RealtimeConfig
}

// RealtimeConfig tunes the websocket collaboration layer.
type RealtimeConfig struct {
	HistoryLimit    int
	SendBuffer      int
	InboxSize       int
	EventsPerSecond float64
	EventBurst      int
	PingPeriod      time.Duration
	ReadLimitBytes  int64
}

// LoadDotEnv reads an optional .env file into the process environment.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load dotenv: %w", err)
	}
	return nil
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigin)
	configViper.SetDefault("realtime.history_limit", defaultHistoryLimit)
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
	configViper.SetDefault("realtime.inbox_size", defaultInboxSize)
	configViper.SetDefault("realtime.events_per_second", defaultEventsPerSecond)
	configViper.SetDefault("realtime.event_burst", defaultEventBurst)
	configViper.SetDefault("realtime.ping_period", defaultPingPeriod)
	configViper.SetDefault("realtime.read_limit", defaultReadLimitBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenIssuer:    configViper.GetString("auth.issuer"),
		TokenAudience:  configViper.GetString("auth.audience"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AllowedOrigins: splitList(configViper.GetString("cors.allowed_origins")),
		Realtime: RealtimeConfig{
			HistoryLimit:    configViper.GetInt("realtime.history_limit"),
			SendBuffer:      configViper.GetInt("realtime.send_buffer"),
			InboxSize:       configViper.GetInt("realtime.inbox_size"),
			EventsPerSecond: configViper.GetFloat64("realtime.events_per_second"),
			EventBurst:      configViper.GetInt("realtime.event_burst"),
			PingPeriod:      configViper.GetDuration("realtime.ping_period"),
			ReadLimitBytes:  configViper.GetInt64("realtime.read_limit"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TokenIssuer) == "" || strings.TrimSpace(c.TokenAudience) == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.Realtime.HistoryLimit <= 0 {
		return fmt.Errorf("realtime.history_limit must be positive")
	}
	if c.Realtime.SendBuffer <= 0 || c.Realtime.InboxSize <= 0 {
		return fmt.Errorf("realtime.send_buffer and realtime.inbox_size must be positive")
	}
	if c.Realtime.EventsPerSecond <= 0 || c.Realtime.EventBurst <= 0 {
		return fmt.Errorf("realtime.events_per_second and realtime.event_burst must be positive")
	}
	if c.Realtime.PingPeriod <= 0 {
		return fmt.Errorf("realtime.ping_period must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
