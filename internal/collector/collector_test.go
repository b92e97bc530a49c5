package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likevault/internal/config"
	"likevault/internal/store"
	"likevault/internal/types"
)

func testCollector(t *testing.T) (*Collector, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()

	dbPath, err := cfg.DatabasePath()
	require.NoError(t, err)
	st, err := store.Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(cfg, st, zerolog.Nop()), cfg
}

func TestSingleFlight(t *testing.T) {
	c, _ := testCollector(t)

	release := make(chan struct{})
	started := make(chan struct{})
	c.run = func(ctx context.Context, mode types.Mode, counts *types.RunCounts) error {
		close(started)
		<-release
		return nil
	}

	require.NoError(t, c.Start(types.ModeIncremental))
	<-started

	// Second start is rejected while the first is active.
	assert.ErrorIs(t, c.Start(types.ModeBackfill), ErrAlreadyRunning)
	assert.ErrorIs(t, c.RunOnce(context.Background(), types.ModeIncremental), ErrAlreadyRunning)

	stats := c.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, types.ModeIncremental, stats.Mode)

	close(release)
	c.Wait()

	stats = c.Stats()
	assert.False(t, stats.Running)
	assert.Empty(t, stats.LastError)
	assert.False(t, stats.LastRunAt.IsZero())

	// The flag cleared; a new run is accepted.
	c.run = func(ctx context.Context, mode types.Mode, counts *types.RunCounts) error { return nil }
	require.NoError(t, c.Start(types.ModeBackfill))
	c.Wait()
}

func TestRunFailureIsRecordedNotFatal(t *testing.T) {
	c, _ := testCollector(t)
	c.run = func(ctx context.Context, mode types.Mode, counts *types.RunCounts) error {
		counts.Attempted = 3
		return fmt.Errorf("feed never loaded")
	}

	err := c.RunOnce(context.Background(), types.ModeIncremental)
	require.Error(t, err)

	stats := c.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, "feed never loaded", stats.LastError)
	assert.Equal(t, 3, stats.Counts.Attempted)
}

func TestSuccessClearsPreviousError(t *testing.T) {
	c, _ := testCollector(t)
	c.run = func(ctx context.Context, mode types.Mode, counts *types.RunCounts) error {
		return fmt.Errorf("transient")
	}
	require.Error(t, c.RunOnce(context.Background(), types.ModeIncremental))
	assert.Equal(t, "transient", c.Stats().LastError)

	c.run = func(ctx context.Context, mode types.Mode, counts *types.RunCounts) error {
		counts.Inserted = 2
		return nil
	}
	require.NoError(t, c.RunOnce(context.Background(), types.ModeIncremental))

	stats := c.Stats()
	assert.Empty(t, stats.LastError)
	assert.Equal(t, 2, stats.Counts.Inserted)
}

func TestStopCancelsRunContext(t *testing.T) {
	c, _ := testCollector(t)

	observed := make(chan error, 1)
	c.run = func(ctx context.Context, mode types.Mode, counts *types.RunCounts) error {
		<-ctx.Done()
		observed <- ctx.Err()
		return ctx.Err()
	}

	require.NoError(t, c.Start(types.ModeIncremental))
	c.Stop()
	c.Wait()

	assert.ErrorIs(t, <-observed, context.Canceled)
	assert.False(t, c.Stats().Running)
}

func TestRunOnceStopsWhenCallerContextEnds(t *testing.T) {
	c, _ := testCollector(t)

	ctx, cancel := context.WithCancel(context.Background())
	c.run = func(runCtx context.Context, mode types.Mode, counts *types.RunCounts) error {
		cancel()
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}

	err := c.RunOnce(ctx, types.ModeIncremental)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.Stats().Running)
}

func TestConcurrentStartsOnlyOneWins(t *testing.T) {
	c, _ := testCollector(t)

	release := make(chan struct{})
	c.run = func(ctx context.Context, mode types.Mode, counts *types.RunCounts) error {
		<-release
		return nil
	}

	var mu sync.Mutex
	accepted := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(types.ModeIncremental); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(release)
	c.Wait()

	assert.Equal(t, 1, accepted)
}

// harvested builds a feed batch the way pagination delivers it:
// newest-first, ranks unassigned.
func harvested(likes int) []types.Candidate {
	now := time.Now().UTC()
	batch := make([]types.Candidate, 0, 3)
	for _, id := range []string{"3", "2", "1"} {
		batch = append(batch, types.Candidate{Post: types.Post{
			ID:          id,
			ContentText: "post " + id,
			CollectedAt: now,
			Likes:       likes,
		}})
	}
	return batch
}

func TestBatchReplayIsIdempotent(t *testing.T) {
	c, _ := testCollector(t)

	// Post 2 was archived by an earlier run with stale metrics.
	require.NoError(t, c.store.InsertPost(types.Post{
		ID:             "2",
		ContentText:    "post 2",
		CollectedAt:    time.Now().UTC(),
		CollectionRank: 1,
		Likes:          10,
	}, nil))

	var counts types.RunCounts
	fresh, err := c.filterKnown(harvested(25), &counts)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, 1, counts.Skipped)

	inserted := c.insertBatch(fresh, &counts)
	assert.Equal(t, 2, counts.Inserted)
	assert.Equal(t, 0, counts.Failed)
	require.Len(t, inserted, 2)

	// The known post kept its identity but picked up fresh metrics.
	known, err := c.store.Post("2")
	require.NoError(t, err)
	assert.Equal(t, "post 2", known.ContentText)
	assert.EqualValues(t, 1, known.CollectionRank)
	assert.Equal(t, 25, known.Likes)

	// New posts rank above everything archived before them, oldest
	// batch member lowest.
	oldest, err := c.store.Post("1")
	require.NoError(t, err)
	newest, err := c.store.Post("3")
	require.NoError(t, err)
	assert.Greater(t, oldest.CollectionRank, known.CollectionRank)
	assert.Greater(t, newest.CollectionRank, oldest.CollectionRank)

	// The same feed again: every candidate is known, nothing lands.
	var replay types.RunCounts
	fresh, err = c.filterKnown(harvested(30), &replay)
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Equal(t, 3, replay.Skipped)
	assert.Empty(t, c.insertBatch(fresh, &replay))
	assert.Equal(t, 0, replay.Inserted)

	totals, err := c.Totals()
	require.NoError(t, err)
	assert.EqualValues(t, 3, totals.Posts)
}

func TestReadFacade(t *testing.T) {
	c, _ := testCollector(t)

	p := types.Post{
		ID:             "1",
		CollectedAt:    time.Now().UTC(),
		CollectionRank: 1,
	}
	require.NoError(t, c.store.InsertPost(p, nil))
	p2 := p
	p2.ID, p2.CollectionRank = "2", 2
	require.NoError(t, c.store.InsertPost(p2, nil))
	require.NoError(t, c.store.SaveThread("1", []string{"1", "2"}))
	require.NoError(t, c.store.InsertMedia(types.MediaItem{
		MediaRef:  types.MediaRef{PostID: "1", URL: "https://cdn.example.com/a.jpg", Kind: types.MediaImage},
		LocalPath: "1/1_abcd1234.jpg",
		FetchedAt: time.Now().UTC(),
	}))

	members, err := c.ThreadMembers("1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "1", members[0].ID)

	items, err := c.MediaForPost("1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	totals, err := c.Totals()
	require.NoError(t, err)
	assert.EqualValues(t, 2, totals.Posts)
}

func TestWriteRunSnapshot(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()

	cands := []types.Candidate{{Post: types.Post{ID: "1"}}}
	path, err := WriteRunSnapshot(cfg, types.ModeIncremental, cands)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"incremental"`)
	assert.Contains(t, string(data), `"id": "1"`)

	runsDir, err := cfg.RunsDir()
	require.NoError(t, err)
	assert.Equal(t, runsDir, filepath.Dir(path))
}

func TestWriteRunSnapshotEmptyBatchWritesNothing(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()

	path, err := WriteRunSnapshot(cfg, types.ModeIncremental, nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	runsDir, err := cfg.RunsDir()
	require.NoError(t, err)
	_, statErr := os.Stat(runsDir)
	assert.True(t, os.IsNotExist(statErr))
}
