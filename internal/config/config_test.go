package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("GUILD_ID", "876189935382704210")
	t.Setenv("CHANNEL_ID", "876189935827288127")
	t.Setenv("MUTE_ROLE_ID", "965349651119243294")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "876189935382704210", cfg.GuildID)
	assert.Equal(t, "./data/mutes.db", cfg.DatabasePath)
	assert.Equal(t, 500*time.Millisecond, cfg.RoleQueuePacing)
	assert.Equal(t, []time.Duration{700 * time.Minute, 500 * time.Minute, 800 * time.Minute}, cfg.SacrificeIntervals)
	assert.Equal(t, 5*time.Minute, cfg.SacrificeWindow)
	assert.Equal(t, 15*time.Minute, cfg.SacrificeMuteDuration)
	assert.Equal(t, 10*time.Minute, cfg.PunishMuteDuration)
	assert.Equal(t, 10*time.Minute, cfg.DirectMuteDuration)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_ProtectedRoles(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROTECTED_ROLE_IDS", "876195007428718652,1024089071674462239")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"876195007428718652", "1024089071674462239"}, cfg.ProtectedRoleIDs)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		skipEnv string
		wantErr string
	}{
		{"missing token", "DISCORD_BOT_TOKEN", "DISCORD_BOT_TOKEN is required"},
		{"missing guild", "GUILD_ID", "GUILD_ID is required"},
		{"missing channel", "CHANNEL_ID", "CHANNEL_ID is required"},
		{"missing mute role", "MUTE_ROLE_ID", "MUTE_ROLE_ID is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.skipEnv, "")

			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SACRIFICE_WINDOW", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SACRIFICE_WINDOW must be positive")
}

func TestLoad_RejectsNonPositiveInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SACRIFICE_INTERVALS", "10m,-1m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SACRIFICE_INTERVALS must be positive")
}
