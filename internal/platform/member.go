// Package platform is the boundary between the bot's core and Discord.
// The core only sees Members and role IDs; discordgo stays behind Client.
package platform

import (
	"errors"
	"slices"
)

var (
	ErrMemberNotFound = errors.New("member not found")
	ErrRoleNotFound   = errors.New("role not found")
)

// RoleOp is a single role mutation kind
type RoleOp int

const (
	RoleAdd RoleOp = iota
	RoleRemove
)

func (op RoleOp) String() string {
	switch op {
	case RoleAdd:
		return "add"
	case RoleRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Member is a guild member as seen at lookup time
type Member struct {
	UserID  string
	GuildID string
	RoleIDs []string // in the order the platform reported them
}

// Mention returns the chat mention for the member
func (m *Member) Mention() string {
	return "<@" + m.UserID + ">"
}

// HasRole reports whether the member currently holds roleID
func (m *Member) HasRole(roleID string) bool {
	return slices.Contains(m.RoleIDs, roleID)
}

// HasAnyRole reports whether the member holds at least one of roleIDs
func (m *Member) HasAnyRole(roleIDs []string) bool {
	for _, id := range roleIDs {
		if m.HasRole(id) {
			return true
		}
	}
	return false
}
