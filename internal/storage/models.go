package storage

import "time"

// MuteRecord is the persisted state of one active mute
type MuteRecord struct {
	UserID        string
	GuildID       string
	RestoreAt     time.Time
	CapturedRoles []string // role IDs in the order they were captured
	Reward        bool     // grant the reward role on restoration
}
