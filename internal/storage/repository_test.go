package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "mutes.db")
	repo, err := NewRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))
	return repo, path
}

func TestPutGet_RoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	restoreAt := time.Now().Add(15 * time.Minute)

	err := repo.Put(ctx, &MuteRecord{
		UserID:        "100",
		GuildID:       "1",
		RestoreAt:     restoreAt,
		CapturedRoles: []string{"30", "10", "20"},
		Reward:        true,
	})
	require.NoError(t, err)

	rec, err := repo.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "1", rec.GuildID)
	assert.WithinDuration(t, restoreAt, rec.RestoreAt, time.Millisecond)
	assert.Equal(t, []string{"30", "10", "20"}, rec.CapturedRoles, "capture order must survive persistence")
	assert.True(t, rec.Reward)
}

func TestPut_EmptyRoleSet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &MuteRecord{UserID: "100", GuildID: "1", RestoreAt: time.Now()}))

	rec, err := repo.Get(ctx, "100")
	require.NoError(t, err)
	assert.Empty(t, rec.CapturedRoles)
	assert.False(t, rec.Reward)
}

func TestPut_ReplacesExistingRecord(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &MuteRecord{UserID: "100", GuildID: "1", RestoreAt: time.Now(), CapturedRoles: []string{"10", "20"}, Reward: true}))
	require.NoError(t, repo.Put(ctx, &MuteRecord{UserID: "100", GuildID: "1", RestoreAt: time.Now(), CapturedRoles: []string{"30"}}))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"30"}, all[0].CapturedRoles, "last writer wins without merging role sets")
	assert.False(t, all[0].Reward)
}

func TestGet_Missing(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrMuteNotFound)
}

func TestDelete_MissingIsNotAnError(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, "nobody"))

	require.NoError(t, repo.Put(ctx, &MuteRecord{UserID: "100", GuildID: "1", RestoreAt: time.Now()}))
	require.NoError(t, repo.Delete(ctx, "100"))
	require.NoError(t, repo.Delete(ctx, "100"))

	_, err := repo.Get(ctx, "100")
	assert.ErrorIs(t, err, ErrMuteNotFound)
}

func TestListAll(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"100", "200", "300"} {
		require.NoError(t, repo.Put(ctx, &MuteRecord{UserID: id, GuildID: "1", RestoreAt: time.Now()}))
	}

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(all))
	for _, rec := range all {
		ids = append(ids, rec.UserID)
	}
	assert.ElementsMatch(t, []string{"100", "200", "300"}, ids)
}

func TestRecordsSurviveReopen(t *testing.T) {
	repo, path := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &MuteRecord{UserID: "100", GuildID: "1", RestoreAt: time.Now(), CapturedRoles: []string{"10"}}))
	require.NoError(t, repo.Close())

	reopened, err := NewRepository(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Migrate(ctx), "migrating an existing schema must be a no-op")

	rec, err := reopened.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, rec.CapturedRoles)
}

func TestMigrate_AddsRewardColumnToLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	ctx := context.Background()

	legacy, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE mutes (
		user_id INTEGER PRIMARY KEY,
		guild_id INTEGER,
		unmute_time REAL,
		original_roles TEXT
	)`)
	require.NoError(t, err)
	_, err = legacy.Exec(`INSERT INTO mutes VALUES (100, 1, 1700000000.5, '10,20')`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	repo, err := NewRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Migrate(ctx), "second migration must swallow the duplicate column")

	rec, err := repo.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "1", rec.GuildID)
	assert.Equal(t, []string{"10", "20"}, rec.CapturedRoles)
	assert.False(t, rec.Reward, "pre-existing rows default to no reward")
	assert.Equal(t, int64(1700000000), rec.RestoreAt.Unix())
}
