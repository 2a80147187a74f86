// Package mute owns the lifecycle of a timed mute: capture a member's roles,
// persist the restoration deadline, strip the roles through the role queue,
// and restore them when the countdown expires.
//
// The persisted record is the only recovery mechanism. Rehydrate must run
// once at startup to re-arm a countdown for every stored record; overdue
// records are restored immediately. Countdowns cannot be cancelled. Restore
// is idempotent because it only acts while a record exists.
package mute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/flor3z/bloodgod-bot/internal/metrics"
	"github.com/flor3z/bloodgod-bot/internal/platform"
	"github.com/flor3z/bloodgod-bot/internal/rolequeue"
	"github.com/flor3z/bloodgod-bot/internal/storage"
	"github.com/jonboulle/clockwork"
)

const (
	reasonMute    = "Sacrifice mute"
	reasonExpired = "Mute duration expired"
	reasonRestore = "Restoring role after mute"
	reasonReward  = "Sacrifice reward"

	restoreTimeout = 30 * time.Second
)

// Store persists mute records
type Store interface {
	Put(ctx context.Context, rec *storage.MuteRecord) error
	Get(ctx context.Context, userID string) (*storage.MuteRecord, error)
	Delete(ctx context.Context, userID string) error
	ListAll(ctx context.Context) ([]*storage.MuteRecord, error)
}

// Enqueuer accepts role mutations for ordered execution
type Enqueuer interface {
	Enqueue(task rolequeue.Task)
}

// Guild resolves members and roles
type Guild interface {
	GetMember(ctx context.Context, guildID, userID string) (*platform.Member, error)
	RoleExists(ctx context.Context, guildID, roleID string) bool
}

// Roles names the fixed roles the scheduler works with
type Roles struct {
	MuteRoleID   string
	RewardRoleID string   // optional
	ProtectedIDs []string // never captured, never stripped
}

// Scheduler starts and ends mutes
type Scheduler struct {
	store Store
	queue Enqueuer
	guild Guild
	clock clockwork.Clock
	roles Roles

	mu    sync.Mutex
	muted map[string]struct{}

	// serializes Restore so a duplicate fire sees the deleted record
	restoreMu sync.Mutex
}

// NewScheduler creates a Scheduler
func NewScheduler(store Store, queue Enqueuer, guild Guild, clock clockwork.Clock, roles Roles) *Scheduler {
	return &Scheduler{
		store: store,
		queue: queue,
		guild: guild,
		clock: clock,
		roles: roles,
		muted: make(map[string]struct{}),
	}
}

// IsMuted reports whether the scheduler holds a pending countdown for userID
func (s *Scheduler) IsMuted(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.muted[userID]
	return ok
}

// CapturableRoles returns the member's roles that a mute strips, in member order.
// The guild's default role and protected roles are never included.
func (s *Scheduler) CapturableRoles(m *platform.Member) []string {
	captured := make([]string, 0, len(m.RoleIDs))
	for _, id := range m.RoleIDs {
		if id == m.GuildID || slices.Contains(s.roles.ProtectedIDs, id) {
			continue
		}
		captured = append(captured, id)
	}
	return captured
}

// MuteRoleReady returns platform.ErrRoleNotFound when the mute role does not
// resolve in the guild
func (s *Scheduler) MuteRoleReady(ctx context.Context, guildID string) error {
	if !s.guild.RoleExists(ctx, guildID, s.roles.MuteRoleID) {
		return fmt.Errorf("mute role %s: %w", s.roles.MuteRoleID, platform.ErrRoleNotFound)
	}
	return nil
}

// BeginMute strips the member's roles for d and schedules their restoration.
// An already muted member makes it a no-op. Without a mute role nothing is
// touched and platform.ErrRoleNotFound is returned.
func (s *Scheduler) BeginMute(ctx context.Context, m *platform.Member, d time.Duration, reward bool) error {
	if err := s.MuteRoleReady(ctx, m.GuildID); err != nil {
		slog.Warn("Mute role not found, skipping mute", "role", s.roles.MuteRoleID, "user", m.UserID)
		return err
	}

	s.mu.Lock()
	if _, ok := s.muted[m.UserID]; ok {
		s.mu.Unlock()
		slog.Debug("Member already muted, skipping", "user", m.UserID)
		return nil
	}
	s.muted[m.UserID] = struct{}{}
	s.mu.Unlock()

	captured := s.CapturableRoles(m)
	rec := &storage.MuteRecord{
		UserID:        m.UserID,
		GuildID:       m.GuildID,
		RestoreAt:     s.clock.Now().Add(d),
		CapturedRoles: captured,
		Reward:        reward,
	}

	// The record must exist before any role is touched
	if err := s.store.Put(ctx, rec); err != nil {
		s.unmark(m.UserID)
		return fmt.Errorf("failed to persist mute: %w", err)
	}

	for _, roleID := range captured {
		s.enqueue(m.GuildID, m.UserID, roleID, platform.RoleRemove, reasonMute)
	}
	s.enqueue(m.GuildID, m.UserID, s.roles.MuteRoleID, platform.RoleAdd, reasonMute)

	metrics.MutesActive.Inc()
	s.schedule(m.UserID, d)

	slog.Info("Member muted",
		"user", m.UserID,
		"duration", d,
		"captured", len(captured),
		"reward", reward)
	return nil
}

// Restore queues the member's captured roles back and deletes the record.
// Without a record it does nothing.
func (s *Scheduler) Restore(ctx context.Context, userID string) error {
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()

	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, storage.ErrMuteNotFound) {
		metrics.MuteRestorationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		metrics.MuteRestorationsTotal.WithLabelValues("error").Inc()
		return err
	}

	// The record stays so the next startup retries; the flag goes so the
	// member can be muted again if they come back before then
	m, err := s.guild.GetMember(ctx, rec.GuildID, userID)
	if err != nil {
		if s.unmark(userID) {
			metrics.MutesActive.Dec()
		}
		metrics.MuteRestorationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to resolve muted member: %w", err)
	}

	if m.HasRole(s.roles.MuteRoleID) {
		s.enqueue(rec.GuildID, userID, s.roles.MuteRoleID, platform.RoleRemove, reasonExpired)
	}

	for _, roleID := range rec.CapturedRoles {
		// Roles deleted during the mute are dropped
		if !s.guild.RoleExists(ctx, rec.GuildID, roleID) {
			slog.Debug("Captured role no longer exists", "user", userID, "role", roleID)
			continue
		}
		s.enqueue(rec.GuildID, userID, roleID, platform.RoleAdd, reasonRestore)
	}

	if rec.Reward && s.roles.RewardRoleID != "" && s.guild.RoleExists(ctx, rec.GuildID, s.roles.RewardRoleID) {
		s.enqueue(rec.GuildID, userID, s.roles.RewardRoleID, platform.RoleAdd, reasonReward)
	}

	if err := s.store.Delete(ctx, userID); err != nil {
		metrics.MuteRestorationsTotal.WithLabelValues("error").Inc()
		return err
	}

	if s.unmark(userID) {
		metrics.MutesActive.Dec()
	}
	metrics.MuteRestorationsTotal.WithLabelValues("restored").Inc()
	slog.Info("Member restored", "user", userID, "roles", len(rec.CapturedRoles), "reward", rec.Reward)
	return nil
}

// Rehydrate re-arms a countdown for every persisted mute and returns how many
// were scheduled. Overdue mutes fire immediately.
func (s *Scheduler) Rehydrate(ctx context.Context) (int, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list mutes: %w", err)
	}

	now := s.clock.Now()
	for _, rec := range records {
		delay := max(rec.RestoreAt.Sub(now), 0)

		s.mu.Lock()
		if _, ok := s.muted[rec.UserID]; !ok {
			s.muted[rec.UserID] = struct{}{}
			metrics.MutesActive.Inc()
		}
		s.mu.Unlock()

		s.schedule(rec.UserID, delay)
		slog.Info("Rehydrated mute", "user", rec.UserID, "delay", delay)
	}

	return len(records), nil
}

func (s *Scheduler) schedule(userID string, d time.Duration) {
	s.clock.AfterFunc(d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()
		if err := s.Restore(ctx, userID); err != nil {
			slog.Error("Failed to restore member", "user", userID, "error", err)
		}
	})
}

func (s *Scheduler) enqueue(guildID, userID, roleID string, op platform.RoleOp, reason string) {
	s.queue.Enqueue(rolequeue.Task{
		GuildID: guildID,
		UserID:  userID,
		RoleID:  roleID,
		Op:      op,
		Reason:  reason,
	})
}

// unmark clears the in-memory flag and reports whether it was set
func (s *Scheduler) unmark(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.muted[userID]
	delete(s.muted, userID)
	return ok
}
