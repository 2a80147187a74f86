package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken   string `env:"DISCORD_BOT_TOKEN"`
	GuildID        string `env:"GUILD_ID"`
	ChannelID      string `env:"CHANNEL_ID"`
	MuteRoleID     string `env:"MUTE_ROLE_ID"`
	RewardRoleID   string `env:"REWARD_ROLE_ID"`
	OperatorRoleID string `env:"OPERATOR_ROLE_ID"`

	// Roles too privileged to be stripped or sacrificed
	ProtectedRoleIDs []string `env:"PROTECTED_ROLE_IDS"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" default:"./data/mutes.db"`

	// Pacing
	RoleQueuePacing time.Duration `env:"ROLE_QUEUE_PACING" default:"500ms"`
	MessageInterval time.Duration `env:"MESSAGE_INTERVAL" default:"1s"`

	// Sacrifice cycle
	SacrificeIntervals    []time.Duration `env:"SACRIFICE_INTERVALS" default:"700m,500m,800m"`
	SacrificeWindow       time.Duration   `env:"SACRIFICE_WINDOW" default:"5m"`
	SacrificeMuteDuration time.Duration   `env:"SACRIFICE_MUTE_DURATION" default:"15m"`
	PunishMuteDuration    time.Duration   `env:"PUNISH_MUTE_DURATION" default:"10m"`
	DirectMuteDuration    time.Duration   `env:"DIRECT_MUTE_DURATION" default:"10m"`

	// Metrics listener, empty disables it
	MetricsAddr string `env:"METRICS_ADDR"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct {
		name  string
		value string
	}{
		{"DISCORD_BOT_TOKEN", cfg.DiscordToken},
		{"GUILD_ID", cfg.GuildID},
		{"CHANNEL_ID", cfg.ChannelID},
		{"MUTE_ROLE_ID", cfg.MuteRoleID},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.SacrificeIntervals) == 0 {
		return errors.New("SACRIFICE_INTERVALS must list at least one interval")
	}
	for _, d := range cfg.SacrificeIntervals {
		if d <= 0 {
			return fmt.Errorf("SACRIFICE_INTERVALS must be positive, got %s", d)
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"ROLE_QUEUE_PACING", cfg.RoleQueuePacing},
		{"MESSAGE_INTERVAL", cfg.MessageInterval},
		{"SACRIFICE_WINDOW", cfg.SacrificeWindow},
		{"SACRIFICE_MUTE_DURATION", cfg.SacrificeMuteDuration},
		{"PUNISH_MUTE_DURATION", cfg.PunishMuteDuration},
		{"DIRECT_MUTE_DURATION", cfg.DirectMuteDuration},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	return nil
}
