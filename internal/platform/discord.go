package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// Client implements the platform operations on top of a discordgo session
type Client struct {
	session *discordgo.Session
	sends   *rate.Limiter
}

// NewClient creates a Client. Outbound chat messages are paced to one per
// messageInterval, with a burst of two so an announcement pair goes out together.
func NewClient(session *discordgo.Session, messageInterval time.Duration) *Client {
	return &Client{
		session: session,
		sends:   rate.NewLimiter(rate.Every(messageInterval), 2),
	}
}

// GetMember looks up a member, preferring the state cache over a REST call
func (c *Client) GetMember(ctx context.Context, guildID, userID string) (*Member, error) {
	if m, err := c.session.State.Member(guildID, userID); err == nil {
		return toMember(guildID, m), nil
	}

	m, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, userID)
		}
		return nil, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}
	return toMember(guildID, m), nil
}

// RoleExists reports whether roleID still resolves in the guild
func (c *Client) RoleExists(ctx context.Context, guildID, roleID string) bool {
	if _, err := c.session.State.Role(guildID, roleID); err == nil {
		return true
	}

	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		slog.Warn("Failed to fetch guild roles", "guild", guildID, "error", err)
		return false
	}
	for _, r := range roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

// MutateRole adds or removes a single role. Discord treats both as idempotent.
func (c *Client) MutateRole(ctx context.Context, guildID, userID, roleID string, op RoleOp, reason string) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}

	var err error
	switch op {
	case RoleAdd:
		err = c.session.GuildMemberRoleAdd(guildID, userID, roleID, opts...)
	case RoleRemove:
		err = c.session.GuildMemberRoleRemove(guildID, userID, roleID, opts...)
	default:
		return fmt.Errorf("unknown role operation %d", op)
	}
	if err != nil {
		return fmt.Errorf("failed to %s role %s for %s: %w", op, roleID, userID, err)
	}
	return nil
}

// SendMessage posts text to a channel, waiting for the send limiter
func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	if err := c.sends.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", channelID, err)
	}
	return nil
}

func toMember(guildID string, m *discordgo.Member) *Member {
	userID := ""
	if m.User != nil {
		userID = m.User.ID
	}
	roles := make([]string, len(m.Roles))
	copy(roles, m.Roles)
	return &Member{
		UserID:  userID,
		GuildID: guildID,
		RoleIDs: roles,
	}
}

// FromDiscord converts a member carried on an interaction
func FromDiscord(guildID string, m *discordgo.Member) *Member {
	return toMember(guildID, m)
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
