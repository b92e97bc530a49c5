// Package collector orchestrates a collection run: session, feed
// pagination, extraction, persistence, thread reconstruction and media
// acquisition, in that order, with a process-wide single-flight guard.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"likevault/internal/config"
	"likevault/internal/extract"
	"likevault/internal/media"
	"likevault/internal/session"
	"likevault/internal/store"
	"likevault/internal/thread"
	"likevault/internal/types"
)

// ErrAlreadyRunning rejects a second Start while a run is active. The
// guard lives in process memory only; it does not survive a restart
// and does not need to, because every stage is idempotent.
var ErrAlreadyRunning = errors.New("a collection run is already active")

// pipeline runs the collection stages; swapped in tests.
type pipeline func(ctx context.Context, mode types.Mode, counts *types.RunCounts) error

// Collector owns the run lifecycle and the stats visible to status
// callers. The mutex is the single synchronization point for both the
// single-flight state and the stats, so status reads are never torn.
type Collector struct {
	cfg   *config.Config
	store *store.Store
	log   zerolog.Logger
	run   pipeline

	mu     sync.Mutex
	stats  types.RunStats
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, st *store.Store, log zerolog.Logger) *Collector {
	c := &Collector{
		cfg:   cfg,
		store: st,
		log:   log.With().Str("component", "collector").Logger(),
	}
	c.run = c.collect
	return c
}

// Start launches a run in the background. At most one run is active at
// a time; a second Start returns ErrAlreadyRunning.
func (c *Collector) Start(mode types.Mode) error {
	ctx, err := c.begin(mode)
	if err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finish(c.execute(ctx, mode))
	}()
	return nil
}

// RunOnce runs a collection synchronously, for CLI use. The same
// single-flight guard applies.
func (c *Collector) RunOnce(ctx context.Context, mode types.Mode) error {
	runCtx, err := c.begin(mode)
	if err != nil {
		return err
	}
	c.wg.Add(1)
	defer c.wg.Done()

	stop := context.AfterFunc(ctx, func() { c.Stop() })
	defer stop()

	runErr := c.execute(runCtx, mode)
	c.finish(runErr)
	return runErr
}

// Stop requests the active run to end. Pagination and thread
// reconstruction check for it every cycle; an in-flight media fetch is
// allowed to finish or time out.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until no run is active.
func (c *Collector) Wait() {
	c.wg.Wait()
}

// Stats returns a snapshot of the run state.
func (c *Collector) Stats() types.RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// begin flips the single-flight flag and prepares the run context.
func (c *Collector) begin(mode types.Mode) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats.Running {
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.stats.Running = true
	c.stats.Mode = mode
	c.stats.StartedAt = time.Now().UTC()
	c.stats.LastError = ""
	c.stats.Counts = types.RunCounts{}
	return ctx, nil
}

// execute runs the pipeline, converting failures to a logged error.
// No failure escapes to crash the host; the worst outcome is a run
// marked failed.
func (c *Collector) execute(ctx context.Context, mode types.Mode) error {
	started := time.Now()
	c.log.Info().Str("mode", string(mode)).Msg("collection run starting")

	var counts types.RunCounts
	err := c.run(ctx, mode, &counts)

	c.mu.Lock()
	c.stats.Counts = counts
	c.mu.Unlock()

	if err != nil {
		c.log.Error().Str("mode", string(mode)).Err(err).
			Dur("elapsed", time.Since(started)).
			Msg("collection run failed")
		return err
	}
	c.log.Info().Str("mode", string(mode)).
		Int("inserted", counts.Inserted).
		Int("skipped", counts.Skipped).
		Int("media_saved", counts.MediaSaved).
		Int("media_failed", counts.MediaFailed).
		Int("threads_saved", counts.ThreadsSaved).
		Dur("elapsed", time.Since(started)).
		Msg("collection run finished")
	return nil
}

// finish clears the single-flight flag and records the outcome.
func (c *Collector) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Running = false
	c.stats.LastRunAt = time.Now().UTC()
	if err != nil {
		c.stats.LastError = err.Error()
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// collect is the real pipeline: everything between "browser up" and
// "media drained".
func (c *Collector) collect(ctx context.Context, mode types.Mode, counts *types.RunCounts) error {
	selPath, err := c.cfg.SelectorsPath()
	if err != nil {
		return err
	}
	sel, err := extract.LoadSelectors(selPath)
	if err != nil {
		c.log.Warn().Err(err).Msg("selector overrides unusable, using defaults")
	}
	ext := extract.New(sel, c.log)

	sess := session.New(c.cfg, c.log)
	if err := sess.Start(ctx, false); err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.EnsureFeed(ctx); err != nil {
		return err
	}

	candidates, err := c.harvestFeed(ctx, sess, ext, mode)
	if err != nil {
		return err
	}
	counts.Attempted = len(candidates)

	fresh, err := c.filterKnown(candidates, counts)
	if err != nil {
		return err
	}

	c.resolveLinks(ctx, fresh)
	inserted := c.insertBatch(fresh, counts)

	if path, err := WriteRunSnapshot(c.cfg, mode, inserted); err != nil {
		c.log.Warn().Err(err).Msg("could not write run snapshot")
	} else if path != "" {
		c.log.Debug().Str("path", path).Msg("run snapshot written")
	}

	refs := collectMedia(inserted)

	rec := thread.New(sess, c.store, ext, c.cfg.Collection.ThreadMaxScrolls, c.log)
	threadRes, err := rec.Run(ctx, inserted)
	counts.ThreadsSaved = threadRes.Saved
	counts.ThreadsSkipped = threadRes.Skipped
	counts.Inserted += threadRes.Inserted
	refs = append(refs, threadRes.NewMedia...)
	if err != nil {
		return err
	}

	mediaDir, err := c.cfg.MediaDir()
	if err != nil {
		return err
	}
	pool := media.NewPool(
		c.cfg.Media.Concurrency,
		c.cfg.Media.FetchTimeout(),
		&media.HTTPFetcher{Client: &http.Client{}},
		c.store,
		&media.Library{Root: mediaDir},
		media.NewPacer(c.cfg.Media.RequestsPerMinute),
		c.log,
	)
	mediaCounts := pool.Drain(ctx, refs)
	counts.MediaSaved = mediaCounts.Saved
	counts.MediaSkipped = mediaCounts.Skipped
	counts.MediaFailed = mediaCounts.Failed

	return nil
}

// harvestFeed pages through the likes feed, snapshotting article
// elements and mapping them to candidates.
func (c *Collector) harvestFeed(ctx context.Context, sess *session.Session, ext *extract.Extractor, mode types.Mode) ([]types.Candidate, error) {
	var candidates []types.Candidate
	seen := make(map[string]bool)
	maxScrolls := c.cfg.Collection.MaxScrolls(mode == types.ModeBackfill)

	err := sess.Paginate(ctx, maxScrolls, func(ctx context.Context) (int, error) {
		snapshots, err := sess.Articles(ctx, seen)
		if err != nil {
			return 0, err
		}
		fresh := 0
		for _, html := range snapshots {
			if cand, ok := ext.Article(html); ok {
				candidates = append(candidates, cand)
				fresh++
			}
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Int("candidates", len(candidates)).Msg("feed harvested")
	return candidates, nil
}

// filterKnown drops already archived posts, refreshing their metrics
// on the way out (the first-seen-wins carve-out).
func (c *Collector) filterKnown(candidates []types.Candidate, counts *types.RunCounts) ([]types.Candidate, error) {
	var fresh []types.Candidate
	for _, cand := range candidates {
		known, err := c.store.Exists(cand.Post.ID)
		if err != nil {
			return nil, fmt.Errorf("filter candidates: %w", err)
		}
		if known {
			counts.Skipped++
			if err := c.store.RefreshMetrics(cand.Post.ID, cand.Post.Likes, cand.Post.Reposts, cand.Post.Replies); err != nil {
				c.log.Warn().Str("post_id", cand.Post.ID).Err(err).
					Msg("metrics refresh failed")
			}
			continue
		}
		fresh = append(fresh, cand)
	}
	return fresh, nil
}

// resolveLinks follows shorteners for the batch, bounded per request.
func (c *Collector) resolveLinks(ctx context.Context, fresh []types.Candidate) {
	client := &http.Client{Timeout: 10 * time.Second}
	for i := range fresh {
		extract.ResolveLinks(ctx, client, fresh[i].Links)
	}
}

// insertBatch ranks the fresh candidates above the stored maximum and
// inserts them. A failed insert counts as failed and the batch
// continues; the transaction already rolled it back whole.
func (c *Collector) insertBatch(fresh []types.Candidate, counts *types.RunCounts) []types.Candidate {
	if len(fresh) == 0 {
		return nil
	}
	base, err := c.store.HighestRank()
	if err != nil {
		c.log.Error().Err(err).Msg("rank query failed, batch not inserted")
		counts.Failed += len(fresh)
		return nil
	}
	extract.AssignRanks(base, fresh)

	inserted := make([]types.Candidate, 0, len(fresh))
	for _, cand := range fresh {
		if err := c.store.InsertPost(cand.Post, cand.Links); err != nil {
			counts.Failed++
			c.log.Warn().Str("post_id", cand.Post.ID).Err(err).
				Msg("insert failed")
			continue
		}
		counts.Inserted++
		inserted = append(inserted, cand)
	}
	return inserted
}

func collectMedia(candidates []types.Candidate) []types.MediaRef {
	var refs []types.MediaRef
	for _, cand := range candidates {
		refs = append(refs, cand.Media...)
	}
	return refs
}

// MediaForPost exposes the archived assets of a post to read-side
// callers (the tray and search UI consume this).
func (c *Collector) MediaForPost(postID string) ([]types.MediaItem, error) {
	return c.store.MediaForPost(postID)
}

// ThreadMembers exposes a reconstructed conversation in position
// order.
func (c *Collector) ThreadMembers(rootID string) ([]types.Post, error) {
	return c.store.ThreadMembers(rootID)
}

// Totals summarizes the archive.
func (c *Collector) Totals() (store.Totals, error) {
	return c.store.Stats()
}
