package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrMuteNotFound is returned when no mute record exists for a user
var ErrMuteNotFound = errors.New("mute record not found")

// Repository handles all database operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite.
// The schema is not touched until Migrate is called.
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Migrate creates the mutes table and applies additive column changes.
// Safe to run against a database created by any earlier schema version.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS mutes (
		user_id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		unmute_time REAL NOT NULL,
		original_roles TEXT
	)`); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	additive := []string{
		`ALTER TABLE mutes ADD COLUMN reward INTEGER DEFAULT 0`,
	}
	for _, migration := range additive {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name")
}

// Put inserts or replaces the mute record for rec.UserID
func (r *Repository) Put(ctx context.Context, rec *MuteRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mutes (user_id, guild_id, unmute_time, original_roles, reward) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			guild_id = excluded.guild_id,
			unmute_time = excluded.unmute_time,
			original_roles = excluded.original_roles,
			reward = excluded.reward`,
		rec.UserID, rec.GuildID, toEpoch(rec.RestoreAt), strings.Join(rec.CapturedRoles, ","), boolToInt(rec.Reward),
	)
	if err != nil {
		return fmt.Errorf("failed to save mute for %s: %w", rec.UserID, err)
	}
	return nil
}

// Get returns the mute record for a user, or ErrMuteNotFound
func (r *Repository) Get(ctx context.Context, userID string) (*MuteRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, guild_id, unmute_time, original_roles, reward FROM mutes WHERE user_id = ?`,
		userID,
	)
	rec, err := scanMute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMuteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mute for %s: %w", userID, err)
	}
	return rec, nil
}

// Delete removes the mute record for a user. Deleting a missing record is not an error.
func (r *Repository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mutes WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete mute for %s: %w", userID, err)
	}
	return nil
}

// ListAll returns every active mute record
func (r *Repository) ListAll(ctx context.Context) ([]*MuteRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, guild_id, unmute_time, original_roles, reward FROM mutes`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*MuteRecord
	for rows.Next() {
		rec, err := scanMute(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMute(s scanner) (*MuteRecord, error) {
	var (
		rec    MuteRecord
		epoch  float64
		roles  sql.NullString
		reward sql.NullInt64
	)
	if err := s.Scan(&rec.UserID, &rec.GuildID, &epoch, &roles, &reward); err != nil {
		return nil, err
	}
	rec.RestoreAt = fromEpoch(epoch)
	rec.CapturedRoles = splitRoles(roles.String)
	rec.Reward = reward.Int64 == 1
	return &rec, nil
}

func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpoch(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
