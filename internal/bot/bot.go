package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/flor3z/bloodgod-bot/internal/config"
	"github.com/flor3z/bloodgod-bot/internal/metrics"
	"github.com/flor3z/bloodgod-bot/internal/mute"
	"github.com/flor3z/bloodgod-bot/internal/platform"
	"github.com/flor3z/bloodgod-bot/internal/rolequeue"
	"github.com/flor3z/bloodgod-bot/internal/sacrifice"
	"github.com/flor3z/bloodgod-bot/internal/storage"
	"github.com/jonboulle/clockwork"
)

// Bot represents the Discord bot instance
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	repo      *storage.Repository
	client    *platform.Client
	queue     *rolequeue.Queue
	mutes     *mute.Scheduler
	sacrifice *sacrifice.Machine
	commands  []*discordgo.ApplicationCommand

	ctx       context.Context
	readyOnce sync.Once
	readyErr  error
	errCh     chan error
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Member intent keeps the state cache's role lists current
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	return newBot(cfg, session, clockwork.NewRealClock())
}

func newBot(cfg *config.Config, session *discordgo.Session, clock clockwork.Clock) (*Bot, error) {
	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client := platform.NewClient(session, cfg.MessageInterval)
	queue := rolequeue.New(client, clock, cfg.RoleQueuePacing)

	mutes := mute.NewScheduler(repo, queue, client, clock, mute.Roles{
		MuteRoleID:   cfg.MuteRoleID,
		RewardRoleID: cfg.RewardRoleID,
		ProtectedIDs: cfg.ProtectedRoleIDs,
	})

	machine := sacrifice.NewMachine(mutes, client, clock, sacrifice.Settings{
		ChannelID:         cfg.ChannelID,
		MuteRoleID:        cfg.MuteRoleID,
		ProtectedRoleIDs:  cfg.ProtectedRoleIDs,
		Intervals:         cfg.SacrificeIntervals,
		Window:            cfg.SacrificeWindow,
		SacrificeDuration: cfg.SacrificeMuteDuration,
		PunishDuration:    cfg.PunishMuteDuration,
		DirectDuration:    cfg.DirectMuteDuration,
	})

	b := &Bot{
		config:    cfg,
		session:   session,
		repo:      repo,
		client:    client,
		queue:     queue,
		mutes:     mutes,
		sacrifice: machine,
		ctx:       context.Background(),
		errCh:     make(chan error, 1),
	}

	// Register event handlers
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection. Background work begins on the first Ready.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx

	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	if b.config.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, b.config.MetricsAddr); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	return nil
}

// OnReady migrates storage, starts the role queue worker, re-arms persisted
// mutes and starts the sacrifice loop. Only the first call does anything.
func (b *Bot) OnReady(ctx context.Context) error {
	b.readyOnce.Do(func() {
		b.readyErr = b.startBackground(ctx)
	})
	return b.readyErr
}

func (b *Bot) startBackground(ctx context.Context) error {
	if err := b.repo.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	go b.queue.Run(ctx)

	n, err := b.mutes.Rehydrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to rehydrate mutes: %w", err)
	}
	slog.Info("Rehydrated persisted mutes", "count", n)

	b.sacrifice.Start(ctx)
	return nil
}

// Err reports fatal errors raised after Start returned
func (b *Bot) Err() <-chan error {
	return b.errCh
}

func (b *Bot) fail(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	// Stop the sacrifice loop
	b.sacrifice.Stop()

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
		if err := b.OnReady(b.ctx); err != nil {
			slog.Error("Startup failed", "error", err)
			b.fail(err)
		}
	})
}

// handleInteraction processes slash command interactions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	// Single guild only; DMs carry no member
	if i.GuildID != b.config.GuildID || i.Member == nil {
		return
	}

	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "user", i.Member.User.ID)

	switch data.Name {
	case "sacrifice":
		b.handleSacrifice(s, i)
	case "debugdrop":
		b.handleDebugDrop(s, i)
	case "soul":
		b.handleSoul(s, i)
	case "say":
		b.handleSay(s, i)
	default:
		slog.Warn("Unknown command", "command", data.Name)
	}
}
