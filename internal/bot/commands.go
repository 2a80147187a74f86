package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/flor3z/bloodgod-bot/internal/platform"
	"github.com/flor3z/bloodgod-bot/internal/sacrifice"
)

const (
	commandTimeout  = 10 * time.Second
	muteRoleMissing = "Mute role is not configured."
)

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "sacrifice",
			Description: "Offer a sacrifice to the Blood God",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "target",
					Description: "The member to sacrifice",
					Required:    true,
				},
			},
		},
		{
			Name:        "debugdrop",
			Description: "Demand a sacrifice right now",
		},
		{
			Name:        "soul",
			Description: "Claim a member's soul without a sacrifice",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "target",
					Description: "The member to mute",
					Required:    true,
				},
			},
		},
		{
			Name:        "say",
			Description: "Speak through the Blood God",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "What to say in the sacrifice channel",
					Required:    true,
				},
			},
		},
	}
}

// registerCommands registers all slash commands in the configured guild
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			b.config.GuildID,
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// handleSacrifice handles the /sacrifice command
func (b *Bot) handleSacrifice(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	caller := platform.FromDiscord(i.GuildID, i.Member)
	target, err := b.resolveTarget(ctx, i)
	if err != nil {
		slog.Warn("Failed to resolve sacrifice target", "error", err)
		respondEphemeral(s, i, "That member cannot be found.")
		return
	}

	outcome, err := b.sacrifice.Resolve(ctx, caller, target)
	reply, public := sacrificeReply(caller, target, outcome, err, b.config.SacrificeMuteDuration)
	if public {
		respondWithMessage(s, i, reply)
	} else {
		respondEphemeral(s, i, reply)
	}
}

// sacrificeReply maps a resolution to the reply text and whether the channel sees it
func sacrificeReply(caller, target *platform.Member, outcome sacrifice.Outcome, err error, d time.Duration) (string, bool) {
	switch {
	case errors.Is(err, sacrifice.ErrNoSacrifice):
		return "The Blood God demands nothing right now.", false
	case errors.Is(err, platform.ErrRoleNotFound):
		return muteRoleMissing, false
	case errors.Is(err, sacrifice.ErrSelfSacrifice):
		return caller.Mention() + " You cannot sacrifice yourself!", true
	case errors.Is(err, sacrifice.ErrCallerProtected):
		return caller.Mention() + " YOU ARE TOO POWERFUL TO BE SACRIFICED!", true
	case errors.Is(err, sacrifice.ErrTargetMuted):
		return target.Mention() + " is already muted!", true
	case err != nil:
		// The cycle is over even when a mute could not be persisted
		slog.Error("Sacrifice mute failed", "caller", caller.UserID, "target", target.UserID, "error", err)
	}

	if outcome == sacrifice.OutcomePunished {
		return "Don't even try.", true
	}
	return fmt.Sprintf("## A WORTHY SACRIFICE: %s and %s have been muted, for %s EACH. ##",
		caller.Mention(), target.Mention(), sacrifice.Minutes(d)), true
}

// handleDebugDrop handles the /debugdrop command
func (b *Bot) handleDebugDrop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isOperator(i) {
		respondEphemeral(s, i, "You are not worthy of this command.")
		return
	}

	respondDeferred(s, i)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.sacrifice.ForceAnnounce(ctx)
	editResponse(s, i, "Debug sacrifice event triggered.")
}

// handleSoul handles the /soul command
func (b *Bot) handleSoul(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isOperator(i) {
		respondEphemeral(s, i, "You are not worthy of this command.")
		return
	}

	respondDeferred(s, i)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	caller := platform.FromDiscord(i.GuildID, i.Member)
	target, err := b.resolveTarget(ctx, i)
	if err != nil {
		slog.Warn("Failed to resolve soul target", "error", err)
		editResponse(s, i, "That member cannot be found.")
		return
	}

	err = b.sacrifice.DirectMute(ctx, caller, target)
	editResponse(s, i, directMuteReply(caller, target, err))
}

// directMuteReply maps a direct mute result to the operator's reply
func directMuteReply(caller, target *platform.Member, err error) string {
	switch {
	case err == nil:
		return "Their soul is yours."
	case errors.Is(err, sacrifice.ErrSelfSacrifice):
		return caller.Mention() + " You cannot target yourself!"
	case errors.Is(err, sacrifice.ErrTargetMuted):
		return target.Mention() + " is already muted!"
	case errors.Is(err, platform.ErrRoleNotFound):
		return muteRoleMissing
	default:
		slog.Error("Direct mute failed", "target", target.UserID, "error", err)
		return "Failed to mute " + target.Mention() + "."
	}
}

// handleSay handles the /say command
func (b *Bot) handleSay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isOperator(i) {
		respondEphemeral(s, i, "You are not worthy of this command.")
		return
	}

	respondDeferred(s, i)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	message := i.ApplicationCommandData().Options[0].StringValue()
	if err := b.client.SendMessage(ctx, b.config.ChannelID, message); err != nil {
		slog.Error("Failed to relay message", "error", err)
		editResponse(s, i, "Failed to send the message.")
		return
	}
	editResponse(s, i, "Message sent.")
}

// resolveTarget looks up the member named by the first command option
func (b *Bot) resolveTarget(ctx context.Context, i *discordgo.InteractionCreate) (*platform.Member, error) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return nil, errors.New("missing target option")
	}
	user := options[0].UserValue(nil)
	return b.client.GetMember(ctx, i.GuildID, user.ID)
}

func (b *Bot) isOperator(i *discordgo.InteractionCreate) bool {
	return hasOperatorRole(platform.FromDiscord(i.GuildID, i.Member), b.config.OperatorRoleID)
}

func hasOperatorRole(m *platform.Member, operatorRoleID string) bool {
	return operatorRoleID != "" && m.HasRole(operatorRoleID)
}

// Helper functions

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// respondDeferred acknowledges privately; editResponse fills in the answer
func respondDeferred(s *discordgo.Session, i *discordgo.InteractionCreate) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
