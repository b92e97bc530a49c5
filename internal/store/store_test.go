package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likevault/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPost(id string, rank int64) types.Post {
	return types.Post{
		ID:             id,
		AuthorHandle:   "someone",
		AuthorName:     "Some One",
		ContentText:    "post " + id,
		PostedAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		CollectedAt:    time.Now().UTC(),
		CollectionRank: rank,
		Likes:          10,
		PermalinkURL:   "https://x.com/someone/status/" + id,
	}
}

func TestInsertAndExists(t *testing.T) {
	s := testStore(t)

	exists, err := s.Exists("100")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.InsertPost(testPost("100", 1), nil))

	exists, err = s.Exists("100")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInsertIsFirstSeenWins(t *testing.T) {
	s := testStore(t)

	p := testPost("100", 1)
	require.NoError(t, s.InsertPost(p, nil))

	// Re-inserting the same id must fail, never overwrite.
	again := testPost("100", 2)
	again.ContentText = "rewritten"
	require.Error(t, s.InsertPost(again, nil))

	got, err := s.Post("100")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "post 100", got.ContentText)
	assert.EqualValues(t, 1, got.CollectionRank)
}

func TestInsertWithLinksIsTransactional(t *testing.T) {
	s := testStore(t)

	p := testPost("100", 1)
	p.HasLinks = true
	links := []types.Link{
		{PostID: "100", URL: "https://t.co/abc", Resolved: "https://example.com/a"},
		{PostID: "100", URL: "", Resolved: ""}, // violates the url CHECK, forces rollback
	}
	require.Error(t, s.InsertPost(p, links))

	// Neither the post nor the good link may be visible.
	exists, err := s.Exists("100")
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := s.Links("100")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLinksKeepInsertionOrder(t *testing.T) {
	s := testStore(t)

	p := testPost("100", 1)
	p.HasLinks = true
	links := []types.Link{
		{PostID: "100", URL: "https://t.co/b", Resolved: "https://example.com/b"},
		{PostID: "100", URL: "https://t.co/a", Resolved: "https://example.com/a"},
		{PostID: "100", URL: "https://t.co/c", Resolved: "https://example.com/c"},
	}
	require.NoError(t, s.InsertPost(p, links))

	got, err := s.Links("100")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "https://t.co/b", got[0].URL)
	assert.Equal(t, "https://t.co/a", got[1].URL)
	assert.Equal(t, "https://t.co/c", got[2].URL)
}

func TestRefreshMetrics(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.InsertPost(testPost("100", 1), nil))

	require.NoError(t, s.RefreshMetrics("100", 42, 7, 3))

	got, err := s.Post("100")
	require.NoError(t, err)
	assert.Equal(t, 42, got.Likes)
	assert.Equal(t, 7, got.Reposts)
	assert.Equal(t, 3, got.Replies)
	// Content untouched.
	assert.Equal(t, "post 100", got.ContentText)
}

func TestHighestRank(t *testing.T) {
	s := testStore(t)

	rank, err := s.HighestRank()
	require.NoError(t, err)
	assert.EqualValues(t, 0, rank)

	require.NoError(t, s.InsertPost(testPost("100", 3), nil))
	require.NoError(t, s.InsertPost(testPost("101", 7), nil))

	rank, err = s.HighestRank()
	require.NoError(t, err)
	assert.EqualValues(t, 7, rank)
}

func TestMediaDedup(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.InsertPost(testPost("100", 1), nil))

	item := types.MediaItem{
		MediaRef:  types.MediaRef{PostID: "100", URL: "https://pbs.twimg.com/media/x.jpg", Kind: types.MediaImage},
		LocalPath: "100/100_deadbeef.jpg",
		FetchedAt: time.Now().UTC(),
	}

	exists, err := s.ExistsMedia("100", item.URL)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.InsertMedia(item))
	// Same tuple again: silently a no-op.
	require.NoError(t, s.InsertMedia(item))

	items, err := s.MediaForPost("100")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, types.MediaImage, items[0].Kind)
	assert.Equal(t, "100/100_deadbeef.jpg", items[0].LocalPath)
}

func TestMediaConcurrentSameTuple(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.InsertPost(testPost("100", 1), nil))

	item := types.MediaItem{
		MediaRef:  types.MediaRef{PostID: "100", URL: "https://pbs.twimg.com/media/x.jpg", Kind: types.MediaImage},
		LocalPath: "100/100_deadbeef.jpg",
		FetchedAt: time.Now().UTC(),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.InsertMedia(item))
		}()
	}
	wg.Wait()

	items, err := s.MediaForPost("100")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSaveThread(t *testing.T) {
	s := testStore(t)
	for i, id := range []string{"1", "2", "3"} {
		require.NoError(t, s.InsertPost(testPost(id, int64(i+1)), nil))
	}

	require.NoError(t, s.SaveThread("1", []string{"1", "2", "3"}))

	members, err := s.ThreadMembers("1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "1", members[0].ID)
	assert.Equal(t, "2", members[1].ID)
	assert.Equal(t, "3", members[2].ID)

	root, err := s.Post("1")
	require.NoError(t, err)
	assert.True(t, root.IsThreadRoot)
	assert.Equal(t, 3, root.ThreadLength)
}

func TestSaveThreadReplacesOldMemberships(t *testing.T) {
	s := testStore(t)
	for i, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, s.InsertPost(testPost(id, int64(i+1)), nil))
	}

	require.NoError(t, s.SaveThread("1", []string{"1", "2"}))
	// The conversation grew; positions are rewritten from scratch.
	require.NoError(t, s.SaveThread("1", []string{"1", "3", "2", "4"}))

	members, err := s.ThreadMembers("1")
	require.NoError(t, err)
	require.Len(t, members, 4)
	assert.Equal(t, []string{"1", "3", "2", "4"},
		[]string{members[0].ID, members[1].ID, members[2].ID, members[3].ID})

	root, err := s.Post("1")
	require.NoError(t, err)
	assert.Equal(t, 4, root.ThreadLength)
}

func TestSaveThreadUnknownMemberRollsBack(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.InsertPost(testPost("1", 1), nil))

	// "ghost" was never archived; the FK rejects it and nothing lands.
	require.Error(t, s.SaveThread("1", []string{"1", "ghost"}))

	members, err := s.ThreadMembers("1")
	require.NoError(t, err)
	assert.Empty(t, members)

	root, err := s.Post("1")
	require.NoError(t, err)
	assert.False(t, root.IsThreadRoot)
	assert.Equal(t, 0, root.ThreadLength)
}

func TestCorruptDatabaseIsReplaced(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("this is not a sqlite file, not even close"), 0o600))

	s, err := Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	// Fresh empty archive, the broken file moved aside.
	rank, err := s.HighestRank()
	require.NoError(t, err)
	assert.EqualValues(t, 0, rank)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var asides int
	for _, e := range entries {
		if e.Name() != "test.db" && e.Name() != "test.db-wal" && e.Name() != "test.db-shm" {
			asides++
		}
	}
	assert.Equal(t, 1, asides)
}

func TestStats(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.InsertPost(testPost("1", 1), []types.Link{
		{PostID: "1", URL: "https://t.co/x", Resolved: "https://example.com"},
	}))
	require.NoError(t, s.InsertPost(testPost("2", 2), nil))
	require.NoError(t, s.SaveThread("1", []string{"1", "2"}))

	totals, err := s.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 2, totals.Posts)
	assert.EqualValues(t, 1, totals.Links)
	assert.EqualValues(t, 1, totals.Threads)
}
