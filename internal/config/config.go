package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Email    string   `yaml:"email"`
	Password string   `yaml:"password"`
	Servers  []Server `yaml:"servers"`

	Log     Log     `yaml:"log"`
	Journal Journal `yaml:"journal"`
	Routes  Routes  `yaml:"routes"`

	ListenAddr     string        `yaml:"listen"`
	APITokenHash   string        `yaml:"api_token_hash"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// CommandRate limits console commands sent to the control plane, per
	// second. Zero disables the limit.
	CommandRate  float64 `yaml:"command_rate"`
	CommandBurst int     `yaml:"command_burst"`

	// UnavailablePattern and UnavailableStatus recognise the upstream
	// "service unavailable" error carried inside data frames.
	UnavailablePattern string `yaml:"unavailable_pattern"`
	UnavailableStatus  string `yaml:"unavailable_status"`

	Schedules []Schedule `yaml:"schedules"`
}

type Server struct {
	Identifier     string `yaml:"identifier"`
	ServerID       int    `yaml:"server_id"`
	Region         string `yaml:"region"`
	RefreshPlayers int    `yaml:"refresh_players"`
	RFBroadcasting bool   `yaml:"rf_broadcasting"`
	HeliFeeds      bool   `yaml:"heli_feeds"`
	BradFeeds      bool   `yaml:"brad_feeds"`
}

type Log struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

type Journal struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// Routes overrides the control-plane endpoints. Empty fields keep the
// built-in defaults.
type Routes struct {
	Login     string `yaml:"login"`
	Token     string `yaml:"token"`
	API       string `yaml:"api"`
	Websocket string `yaml:"websocket"`
	Origin    string `yaml:"origin"`
}

type Schedule struct {
	Server  string `yaml:"server"`
	Cron    string `yaml:"cron"`
	Command string `yaml:"command"`
}

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrDuplicateServer    = errors.New("duplicate server identifier")
	ErrInvalidRegion      = errors.New("region must be US or EU")
)

// Load reads the optional YAML file at path and overlays RCELINK_*
// environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:     ":8080",
		CORSOrigins:    []string{"http://localhost:5173", "http://localhost:8080"},
		ConnectTimeout: 10 * time.Second,
		CommandBurst:   1,
		Log:            Log{Level: "info"},
		Journal:        Journal{Retention: 7 * 24 * time.Hour},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Email = envOr("RCELINK_EMAIL", cfg.Email)
	cfg.Password = envOr("RCELINK_PASSWORD", cfg.Password)
	cfg.ListenAddr = envOr("RCELINK_LISTEN", cfg.ListenAddr)
	cfg.APITokenHash = envOr("RCELINK_API_TOKEN_HASH", cfg.APITokenHash)
	cfg.Log.Level = envOr("RCELINK_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envOr("RCELINK_LOG_FILE", cfg.Log.File)
	cfg.Journal.Path = envOr("RCELINK_JOURNAL", cfg.Journal.Path)

	if v := os.Getenv("RCELINK_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("RCELINK_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if v := os.Getenv("RCELINK_COMMAND_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("RCELINK_COMMAND_RATE: %w", err)
		}
		cfg.CommandRate = r
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Email == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if seen[s.Identifier] {
			return fmt.Errorf("%w: %s", ErrDuplicateServer, s.Identifier)
		}
		seen[s.Identifier] = true
		if s.Region != "US" && s.Region != "EU" {
			return fmt.Errorf("server %s: %w", s.Identifier, ErrInvalidRegion)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
