// Package config provides YAML-based configuration loading for Blockyard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given on the command line.
const DefaultPath = "blockyard.yaml"

// Config is the top-level Blockyard configuration, loaded from blockyard.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Chat      ChatConfig      `yaml:"chat"`
	Access    AccessConfig    `yaml:"access"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Storage   StorageConfig   `yaml:"storage"`
	Digest    DigestConfig    `yaml:"digest"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DatabaseConfig selects the SQL backend. The sqlite driver uses Path; mysql
// uses the host/port/user/password/name fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// ChatConfig selects the chat platform the bot listens on.
type ChatConfig struct {
	Platform string        `yaml:"platform"`
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds the Discord bot token.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// AccessConfig lists administrator identities ("platform:user") and whether
// block workflows are limited to approved users.
type AccessConfig struct {
	Admins        []string `yaml:"admins"`
	RequireActive bool     `yaml:"require_active"`
}

// IsAdmin reports whether externalID is listed in Admins.
func (a AccessConfig) IsAdmin(externalID string) bool {
	for _, id := range a.Admins {
		if id == externalID {
			return true
		}
	}
	return false
}

// SessionsConfig controls conversation session eviction.
type SessionsConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

// TTL returns the idle lifetime of a conversation session.
func (s SessionsConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// StorageConfig is where attachments (QR labels, exports) are written.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// DigestConfig schedules the daily stock digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// DashboardConfig controls the read-only HTTP API.
type DashboardConfig struct {
	Enabled         bool `yaml:"enabled"`
	Port            int  `yaml:"port"`
	RateLimitPerSec int  `yaml:"rate_limit_per_sec"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config (or in the working directory) is loaded
// first so ${VAR} references can be resolved.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references and unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = filepath.Join("data", "blockyard.db")
	}
	if c.Database.Driver == "mysql" && c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Sessions.TTLMinutes == 0 {
		c.Sessions.TTLMinutes = 60
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join("data", "files")
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 18 * * *"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Dashboard.RateLimitPerSec == 0 {
		c.Dashboard.RateLimitPerSec = 5
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required for mysql")
		}
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}

	switch c.Chat.Platform {
	case "":
	case "slack":
		if c.Chat.Slack.AppToken == "" {
			errs = append(errs, "chat.slack.app_token is required")
		}
		if c.Chat.Slack.BotToken == "" {
			errs = append(errs, "chat.slack.bot_token is required")
		}
	case "discord":
		if c.Chat.Discord.BotToken == "" {
			errs = append(errs, "chat.discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not supported (slack, discord)", c.Chat.Platform))
	}
	if c.Chat.Platform != "" && c.Chat.Channel == "" {
		errs = append(errs, "chat.channel is required")
	}

	if c.Sessions.TTLMinutes < 0 {
		errs = append(errs, "sessions.ttl_minutes must be positive")
	}
	if c.Digest.Enabled {
		if _, err := cron.ParseStandard(c.Digest.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("digest.cron %q is invalid: %v", c.Digest.Cron, err))
		}
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d is out of range", c.Dashboard.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
