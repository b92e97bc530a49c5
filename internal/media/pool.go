// Package media drains download work for newly archived posts through
// a fixed-size worker pool. Each task is independent; the only shared
// state is the progress counters, which sit behind a mutex.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"likevault/internal/types"
)

// Job is one asset to acquire.
type Job struct {
	Ref types.MediaRef
}

// Result reports how a job ended. Exactly one of Skipped, Err or
// neither (success) applies.
type Result struct {
	Ref      types.MediaRef
	Skipped  bool
	Err      error
	Size     int
	Duration time.Duration
}

// Fetcher retrieves a remote asset.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// Recorder is the slice of the store the pool needs: the dedup check
// and the row write.
type Recorder interface {
	ExistsMedia(postID, originURL string) (bool, error)
	InsertMedia(item types.MediaItem) error
}

// Saver writes fetched bytes to the archive and returns the stored
// relative path.
type Saver interface {
	Save(ref types.MediaRef, data []byte, contentType string) (string, error)
}

// Counts tallies pool progress. Snapshot values, safe to copy.
type Counts struct {
	Saved   int
	Skipped int
	Failed  int
}

// Pool is a bounded worker pool for media acquisition.
type Pool struct {
	workers int
	timeout time.Duration

	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	fetcher  Fetcher
	recorder Recorder
	saver    Saver
	limiter  Limiter
	log      zerolog.Logger

	mu     sync.Mutex
	counts Counts
}

// NewPool builds a pool. workers below 1 falls back to 1; a nil
// limiter disables pacing.
func NewPool(workers int, timeout time.Duration, fetcher Fetcher, recorder Recorder, saver Saver, limiter Limiter, log zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if limiter == nil {
		limiter = NopLimiter{}
	}
	return &Pool{
		workers:  workers,
		timeout:  timeout,
		jobs:     make(chan Job, workers*2),
		results:  make(chan Result, workers),
		fetcher:  fetcher,
		recorder: recorder,
		saver:    saver,
		limiter:  limiter,
		log:      log.With().Str("component", "media").Logger(),
	}
}

// Start launches the workers. The pool lives under ctx: when it ends,
// queued jobs are abandoned and only the item already in flight runs
// out its per-item timeout.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.log.Debug().Int("workers", p.workers).Msg("starting media workers")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues a job. It fails only when the pool is shutting down.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("media pool is shutting down")
	}
}

// Stop closes the queue, waits for in-flight jobs to finish or time
// out (never preempting them) and closes the results channel.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	close(p.results)
	if p.cancel != nil {
		p.cancel()
	}
}

// Results is consumed by the caller; completion order is not
// submission order.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Progress returns a snapshot of the counters.
func (p *Pool) Progress() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

// Drain runs refs through the pool end to end: start, submit, stop,
// consume. Per-item failures are logged and counted, never escalated;
// the returned counts are the batch's outcome. A cancelled ctx stops
// submission and keeps workers from picking up queued jobs.
func (p *Pool) Drain(ctx context.Context, refs []types.MediaRef) Counts {
	p.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range p.results {
			if res.Err != nil {
				p.log.Warn().
					Str("post_id", res.Ref.PostID).
					Str("url", res.Ref.URL).
					Err(res.Err).
					Msg("media item failed")
			}
		}
	}()

	for _, ref := range refs {
		if err := p.Submit(Job{Ref: ref}); err != nil {
			break
		}
	}
	p.Stop()
	<-done
	return p.Progress()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for job := range p.jobs {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		res := p.process(job)
		p.record(res)

		select {
		case p.results <- res:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) record(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case res.Err != nil:
		p.counts.Failed++
	case res.Skipped:
		p.counts.Skipped++
	default:
		p.counts.Saved++
	}
}

// process acquires one asset: dedup check, paced fetch with a
// per-item timeout, file write, row write. Any failure is the item's
// alone.
func (p *Pool) process(job Job) Result {
	start := time.Now()
	ref := job.Ref
	res := Result{Ref: ref}
	finish := func() Result {
		res.Duration = time.Since(start)
		return res
	}

	known, err := p.recorder.ExistsMedia(ref.PostID, ref.URL)
	if err != nil {
		res.Err = fmt.Errorf("dedup check: %w", err)
		return finish()
	}
	if known {
		res.Skipped = true
		return finish()
	}

	if err := p.limiter.Wait(p.ctx); err != nil {
		res.Err = err
		return finish()
	}

	// A stop request never preempts the item in flight; the per-item
	// timeout bounds it instead.
	fetchCtx := context.WithoutCancel(p.ctx)
	cancel := context.CancelFunc(func() {})
	if p.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(fetchCtx, p.timeout)
	}
	data, contentType, err := p.fetcher.Fetch(fetchCtx, UpgradeURL(ref.URL))
	cancel()
	if err != nil {
		res.Err = fmt.Errorf("fetch: %w", err)
		return finish()
	}
	res.Size = len(data)

	localPath, err := p.saver.Save(ref, data, contentType)
	if err != nil {
		res.Err = fmt.Errorf("save: %w", err)
		return finish()
	}

	item := types.MediaItem{
		MediaRef:  ref,
		LocalPath: localPath,
		FetchedAt: time.Now().UTC(),
	}
	if err := p.recorder.InsertMedia(item); err != nil {
		res.Err = fmt.Errorf("record: %w", err)
		return finish()
	}
	return finish()
}
