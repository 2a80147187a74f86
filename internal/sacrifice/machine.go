// Package sacrifice runs the recurring sacrifice event.
//
// A Machine is either idle or announced. Announcing arms a response window;
// the first valid /sacrifice resolves the cycle and cancels the window,
// otherwise the window expires with a taunt. Only one cycle exists at a time.
package sacrifice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/flor3z/bloodgod-bot/internal/metrics"
	"github.com/flor3z/bloodgod-bot/internal/platform"
	"github.com/jonboulle/clockwork"
)

// Announcement texts
const (
	AnnounceHeadline = "## THE BLOOD GOD DEMANDS A SACRIFICE. ##"
	AnnounceUsage    = "Use /sacrifice @[user]."
	ForcedHeadline   = "THE BLOOD GOD DEMANDS A SACRIFICE. (DEBUG DROP)"
	Taunt            = "IGNORANT FOOLS!"
)

var (
	ErrCycleActive     = errors.New("a sacrifice is already being demanded")
	ErrNoSacrifice     = errors.New("no sacrifice is being demanded")
	ErrSelfSacrifice   = errors.New("cannot sacrifice yourself")
	ErrCallerProtected = errors.New("caller is too powerful to be sacrificed")
	ErrTargetMuted     = errors.New("target is already muted")
)

// Phase of the sacrifice cycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAnnounced
)

func (p Phase) String() string {
	if p == PhaseAnnounced {
		return "announced"
	}
	return "idle"
}

// Outcome of a successful resolution
type Outcome int

const (
	// OutcomeSacrificed: caller and target were both muted
	OutcomeSacrificed Outcome = iota
	// OutcomePunished: the target was protected, so the caller was muted instead
	OutcomePunished
)

// Muter starts timed mutes
type Muter interface {
	// MuteRoleReady fails with platform.ErrRoleNotFound when no mute can be applied
	MuteRoleReady(ctx context.Context, guildID string) error
	BeginMute(ctx context.Context, m *platform.Member, d time.Duration, reward bool) error
}

// Messenger posts chat messages
type Messenger interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

// Settings configures a Machine
type Settings struct {
	ChannelID        string
	MuteRoleID       string
	ProtectedRoleIDs []string

	Intervals         []time.Duration // waits between cycles, one picked at random
	Window            time.Duration   // how long a cycle stays open
	SacrificeDuration time.Duration
	PunishDuration    time.Duration
	DirectDuration    time.Duration
}

// cycle is one announced round and its cancellable timeout
type cycle struct {
	gen     uint64
	timeout clockwork.Timer
	done    chan struct{}
}

// Machine owns the sacrifice state
type Machine struct {
	muter    Muter
	msgs     Messenger
	clock    clockwork.Clock
	settings Settings
	pick     func(n int) int

	mu    sync.Mutex
	phase Phase
	gen   uint64
	cur   *cycle

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMachine creates an idle Machine
func NewMachine(muter Muter, msgs Messenger, clock clockwork.Clock, settings Settings) *Machine {
	return &Machine{
		muter:    muter,
		msgs:     msgs,
		clock:    clock,
		settings: settings,
		pick:     rand.Intn,
		stopChan: make(chan struct{}),
	}
}

// Phase returns the current phase
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Announce opens a new cycle. It fails with ErrCycleActive unless idle.
func (m *Machine) Announce(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return ErrCycleActive
	}
	m.open()
	m.mu.Unlock()

	slog.Info("Sacrifice announced", "window", m.settings.Window)
	m.send(ctx, AnnounceHeadline)
	m.send(ctx, AnnounceUsage)
	return nil
}

// ForceAnnounce cancels any open cycle and opens a fresh one immediately
func (m *Machine) ForceAnnounce(ctx context.Context) {
	m.mu.Lock()
	if m.cur != nil {
		m.finish("replaced")
	}
	m.open()
	m.mu.Unlock()

	slog.Info("Sacrifice forced", "window", m.settings.Window)
	m.send(ctx, ForcedHeadline)
}

// Resolve handles a sacrifice offered by caller against target.
// Outside an announced cycle it returns ErrNoSacrifice and does nothing.
// Rejections, including a missing mute role, leave the cycle open.
func (m *Machine) Resolve(ctx context.Context, caller, target *platform.Member) (Outcome, error) {
	if m.Phase() != PhaseAnnounced {
		return 0, ErrNoSacrifice
	}
	if err := m.muter.MuteRoleReady(ctx, caller.GuildID); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.phase != PhaseAnnounced {
		m.mu.Unlock()
		return 0, ErrNoSacrifice
	}

	switch {
	case caller.UserID == target.UserID:
		m.mu.Unlock()
		return 0, ErrSelfSacrifice
	case caller.HasAnyRole(m.settings.ProtectedRoleIDs):
		m.mu.Unlock()
		return 0, ErrCallerProtected
	case target.HasRole(m.settings.MuteRoleID):
		m.mu.Unlock()
		return 0, ErrTargetMuted
	}

	// The caller is known to be unprotected here
	if target.HasAnyRole(m.settings.ProtectedRoleIDs) {
		m.finish("punished")
		m.mu.Unlock()

		slog.Info("Sacrifice of a protected member, punishing caller", "caller", caller.UserID, "target", target.UserID)
		if err := m.muter.BeginMute(ctx, caller, m.settings.PunishDuration, false); err != nil {
			return OutcomePunished, fmt.Errorf("failed to punish caller: %w", err)
		}
		return OutcomePunished, nil
	}

	m.finish("sacrificed")
	m.mu.Unlock()

	slog.Info("Sacrifice accepted", "caller", caller.UserID, "target", target.UserID)
	errCaller := m.muter.BeginMute(ctx, caller, m.settings.SacrificeDuration, true)
	errTarget := m.muter.BeginMute(ctx, target, m.settings.SacrificeDuration, false)
	if err := errors.Join(errCaller, errTarget); err != nil {
		return OutcomeSacrificed, fmt.Errorf("failed to mute sacrifice: %w", err)
	}
	return OutcomeSacrificed, nil
}

// DirectMute mutes target alone, outside any cycle, without a reward
func (m *Machine) DirectMute(ctx context.Context, caller, target *platform.Member) error {
	if caller.UserID == target.UserID {
		return ErrSelfSacrifice
	}
	if target.HasRole(m.settings.MuteRoleID) {
		return ErrTargetMuted
	}
	if err := m.muter.MuteRoleReady(ctx, target.GuildID); err != nil {
		return err
	}

	m.send(ctx, "YOUR SOUL BELONGS TO ME "+target.Mention())
	if err := m.muter.BeginMute(ctx, target, m.settings.DirectDuration, false); err != nil {
		return err
	}
	m.send(ctx, fmt.Sprintf("## A WORTHY SACRIFICE: %s has been muted for %s. ##", target.Mention(), Minutes(m.settings.DirectDuration)))
	return nil
}

// Minutes renders a duration for announcements, e.g. "15 minutes"
func Minutes(d time.Duration) string {
	n := int(d.Round(time.Minute) / time.Minute)
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}

// open starts a cycle; m.mu must be held
func (m *Machine) open() {
	m.gen++
	gen := m.gen
	c := &cycle{gen: gen, done: make(chan struct{})}
	c.timeout = m.clock.AfterFunc(m.settings.Window, func() { m.expire(gen) })
	m.cur = c
	m.phase = PhaseAnnounced
}

// finish ends the current cycle and cancels its timeout; m.mu must be held
func (m *Machine) finish(outcome string) {
	if m.cur != nil {
		m.cur.timeout.Stop()
		close(m.cur.done)
		m.cur = nil
	}
	m.phase = PhaseIdle
	metrics.SacrificeCyclesTotal.WithLabelValues(outcome).Inc()
}

// expire runs when a window elapses. A cycle that was already closed or
// replaced is left alone.
func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	if m.cur == nil || m.cur.gen != gen {
		m.mu.Unlock()
		return
	}
	m.finish("timeout")
	m.mu.Unlock()

	slog.Info("Sacrifice window expired")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.send(ctx, Taunt)
}

// cycleDone returns the open cycle's done channel, or nil when idle
func (m *Machine) cycleDone() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	return m.cur.done
}

func (m *Machine) send(ctx context.Context, text string) {
	if err := m.msgs.SendMessage(ctx, m.settings.ChannelID, text); err != nil {
		slog.Error("Failed to send sacrifice message", "channel", m.settings.ChannelID, "error", err)
	}
}
