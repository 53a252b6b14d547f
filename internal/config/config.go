// Package config provides YAML-based configuration loading for Roundtable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Roundtable configuration, loaded from rt.yaml.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Database  DatabaseConfig  `yaml:"database"`
	Agent     AgentConfig     `yaml:"agent"`
	Directory DirectoryConfig `yaml:"directory"`
	Invites   InvitesConfig   `yaml:"invites"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// DeviceConfig identifies this device to rooms it takes part in.
type DeviceConfig struct {
	Credential string `yaml:"credential"`
	// Account is the local-account reference used for rooms this device
	// originates. Defaults to Credential.
	Account string `yaml:"account"`
	// Aliases are the emails and phone numbers this device is reached by.
	// A shared room seat addressed to one of them is claimed by the device.
	Aliases []string `yaml:"aliases"`
}

// DatabaseConfig selects where room records live. SQLite keeps a
// single-device replica; MySQL (Dolt) is shared between devices.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or mysql
	Path   string `yaml:"path"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
}

// AgentConfig configures the claude subprocess that plays the agent.
type AgentConfig struct {
	Binary       string `yaml:"binary"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	WorkDir      string `yaml:"work_dir"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

// Timeout returns the per-call agent timeout.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

// DirectoryConfig configures participant resolution.
type DirectoryConfig struct {
	// Static maps an identifier value (email, phone, account) to its
	// canonical reference.
	Static map[string]string `yaml:"static"`
	GitHub GitHubConfig      `yaml:"github"`
}

// GitHubConfig enables resolving identifiers against GitHub users.
type GitHubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// InvitesConfig holds the chat platforms invites are posted to.
type InvitesConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot credentials.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// PaymentsConfig configures the local hold ledger.
type PaymentsConfig struct {
	// LimitCents declines any authorisation above it. Zero means no limit.
	LimitCents int64 `yaml:"limit_cents"`
}

// RoomsConfig holds room timing.
type RoomsConfig struct {
	InviteTTLHours int    `yaml:"invite_ttl_hours"`
	ExpirySchedule string `yaml:"expiry_schedule"`
	SyncSchedule   string `yaml:"sync_schedule"`
}

// InviteTTL is how long a room waits for its humans.
func (r RoomsConfig) InviteTTL() time.Duration {
	return time.Duration(r.InviteTTLHours) * time.Hour
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
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
	if c.Device.Account == "" {
		c.Device.Account = c.Device.Credential
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "roundtable.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "roundtable"
	}
	if c.Agent.Binary == "" {
		c.Agent.Binary = "claude"
	}
	if c.Agent.TimeoutSec == 0 {
		c.Agent.TimeoutSec = 120
	}
	if c.Rooms.InviteTTLHours == 0 {
		c.Rooms.InviteTTLHours = 72
	}
	if c.Rooms.ExpirySchedule == "" {
		c.Rooms.ExpirySchedule = "*/15 * * * *"
	}
	if c.Rooms.SyncSchedule == "" {
		c.Rooms.SyncSchedule = "* * * * *"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8480
	}
}

// scheduleParser matches the five-field expressions the replica jobs use.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if strings.TrimSpace(c.Device.Credential) == "" {
		errs = append(errs, "device.credential is required")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Agent.TimeoutSec < 0 {
		errs = append(errs, "agent.timeout_sec must not be negative")
	}
	if c.Directory.GitHub.Enabled && c.Directory.GitHub.Token == "" {
		errs = append(errs, "directory.github.token is required when github is enabled")
	}
	if (c.Invites.Slack.BotToken == "") != (c.Invites.Slack.ChannelID == "") {
		errs = append(errs, "invites.slack needs both bot_token and channel_id")
	}
	if (c.Invites.Discord.BotToken == "") != (c.Invites.Discord.ChannelID == "") {
		errs = append(errs, "invites.discord needs both bot_token and channel_id")
	}
	if c.Payments.LimitCents < 0 {
		errs = append(errs, "payments.limit_cents must not be negative")
	}
	if c.Rooms.InviteTTLHours < 0 {
		errs = append(errs, "rooms.invite_ttl_hours must not be negative")
	}
	if _, err := scheduleParser.Parse(c.Rooms.ExpirySchedule); err != nil {
		errs = append(errs, fmt.Sprintf("rooms.expiry_schedule: %v", err))
	}
	if _, err := scheduleParser.Parse(c.Rooms.SyncSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("rooms.sync_schedule: %v", err))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port %d out of range", c.HTTP.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
