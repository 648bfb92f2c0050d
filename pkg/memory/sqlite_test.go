package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-voicebot/internal/log"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndFindByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, Record{
		OwnerID:   "u1",
		SessionID: "s1",
		Keywords:  []string{"pizza", "food"},
		Summary:   "Likes pineapple pizza",
	})
	require.NoError(t, err)

	rec, err := s.FindByID(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza", "food"}, rec.Keywords)
	assert.Equal(t, "Likes pineapple pizza", rec.Content, "content defaults to summary")
	assert.Equal(t, DefaultType, rec.Type)
	assert.Equal(t, DefaultImportance, rec.Importance)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = s.FindByID(ctx, "someone-else", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRequiresSummary(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), Record{OwnerID: "u1", Keywords: []string{"x"}})
	assert.ErrorIs(t, err, ErrEmptyRecord)
}

func TestFindByKeywordsExcludesCurrentSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, Record{OwnerID: "u1", SessionID: "old", Keywords: []string{"guitar"}, Summary: "Plays guitar"})
	require.NoError(t, err)
	_, err = s.Save(ctx, Record{OwnerID: "u1", SessionID: "now", Keywords: []string{"guitar"}, Summary: "Bought a new guitar"})
	require.NoError(t, err)

	recs, err := s.FindByKeywords(ctx, "u1", "now", []string{"guitar"}, 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "old", recs[0].SessionID)

	recs, err = s.FindByKeywords(ctx, "u1", "later", []string{"guitar"}, 5)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestFindByKeywordsRankingAndAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	low, _ := s.Save(ctx, Record{OwnerID: "u1", SessionID: "a", Keywords: []string{"cat"}, Summary: "low", Importance: 2, CreatedAt: base})
	high, _ := s.Save(ctx, Record{OwnerID: "u1", SessionID: "a", Keywords: []string{"cat"}, Summary: "high", Importance: 9, CreatedAt: base})
	newer, _ := s.Save(ctx, Record{OwnerID: "u1", SessionID: "a", Keywords: []string{"cat"}, Summary: "newer", Importance: 2, CreatedAt: base.Add(time.Hour)})

	recs, err := s.FindByKeywords(ctx, "u1", "b", []string{"CAT"}, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int64{high, newer, low}, []int64{recs[0].ID, recs[1].ID, recs[2].ID})
	assert.Equal(t, 1, recs[0].AccessCount)

	rec, err := s.FindByID(ctx, "u1", low)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AccessCount)
	assert.False(t, rec.LastAccessedAt.IsZero())

	// Recalling low again puts it ahead of newer at equal importance.
	_, err = s.FindByKeywords(ctx, "u1", "b", []string{"low"}, 1)
	require.NoError(t, err)
	recs, err = s.FindByKeywords(ctx, "u1", "b", []string{"cat"}, 3)
	require.NoError(t, err)
	assert.Equal(t, low, recs[1].ID)
}

func TestFindByKeywordsMatchesSummaryAndContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, Record{OwnerID: "u1", SessionID: "a", Keywords: []string{"travel"}, Summary: "Visited Lisbon", Content: "Loved the trams"})
	require.NoError(t, err)

	for _, term := range []string{"lisbon", "trams", "travel"} {
		recs, err := s.FindByKeywords(ctx, "u1", "b", []string{term}, 1)
		require.NoError(t, err)
		assert.Len(t, recs, 1, term)
	}

	recs, err := s.FindByKeywords(ctx, "u1", "b", nil, 1)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUpdateAndDeleteMaintainKeywords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, Record{OwnerID: "u1", SessionID: "a", Keywords: []string{"Dog"}, Summary: "Has a dog"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dog"}, s.Keywords())

	require.NoError(t, s.Update(ctx, "u1", id, Update{Keywords: []string{"puppy"}, Summary: "Has a puppy"}))
	assert.Equal(t, []string{"puppy"}, s.Keywords())

	rec, err := s.FindByID(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "Has a puppy", rec.Summary)

	assert.ErrorIs(t, s.Update(ctx, "u2", id, Update{Summary: "x"}), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "u2", id), ErrNotFound)

	require.NoError(t, s.Delete(ctx, "u1", id))
	assert.Empty(t, s.Keywords())
}

func TestKeywordsReloadedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kw.db")
	s, err := OpenSQLite(path, log.Nop())
	require.NoError(t, err)
	_, err = s.Save(context.Background(), Record{OwnerID: "u1", SessionID: "a", Keywords: []string{"chess", "games"}, Summary: "Plays chess"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, log.Nop())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []string{"chess", "games"}, s.Keywords())
}

func TestRecentChats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	entries := []ChatEntry{
		{OwnerID: "u1", SessionID: "old", DisplayName: "Ann", UserMessage: "ancient", Response: "r", At: now.AddDate(0, 0, -30)},
		{OwnerID: "u1", SessionID: "old", DisplayName: "Ann", UserMessage: "first", Response: "r1", At: now.Add(-3 * time.Hour)},
		{OwnerID: "u1", SessionID: "old", DisplayName: "Ann", UserMessage: "second", Response: "r2", At: now.Add(-2 * time.Hour)},
		{OwnerID: "u1", SessionID: "current", DisplayName: "Ann", UserMessage: "mine", Response: "r3", At: now.Add(-time.Hour)},
		{OwnerID: "u2", SessionID: "old", DisplayName: "Bob", UserMessage: "other", Response: "r4", At: now.Add(-time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendChat(ctx, e))
	}

	got, err := s.RecentChats(ctx, "u1", "current", 7, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].UserMessage)
	assert.Equal(t, "second", got[1].UserMessage)

	got, err = s.RecentChats(ctx, "u1", "current", 7, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].UserMessage, "limit keeps the newest")
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, owner := range []string{"u1", "u1", "u2"} {
		_, err := s.Save(ctx, Record{OwnerID: owner, SessionID: "a", Keywords: []string{"k"}, Summary: "s"})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := s.List(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	require.NoError(t, s.DeleteByID(ctx, all[0].ID))
	assert.ErrorIs(t, s.DeleteByID(ctx, all[0].ID), ErrNotFound)
}
