// Package session owns the one browser the collector drives. All
// navigation, login detection and scroll pagination happen here;
// nothing downstream touches chromedp.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"likevault/internal/browser"
	"likevault/internal/config"
	"likevault/internal/retry"
)

// Page-state selectors. Login detection is a navigation concern, so
// these live here rather than with the extraction selectors.
const (
	selArticle     = `article[data-testid="tweet"]`
	selSideNav     = `[data-testid="SideNav_AccountSwitcher_Button"]`
	selLoginLink   = `a[href="/login"]`
	selProfileLink = `a[data-testid="AppTabBar_Profile_Link"]`
)

// feedState is what a loaded page tells us about the session.
type feedState string

const (
	stateFeedLoaded feedState = "feed"  // logged in, articles rendered
	stateFeedEmpty  feedState = "empty" // logged in, no articles (yet)
	stateLoggedOut  feedState = "logged-out"
	statePending    feedState = "pending" // page not recognizable yet
)

// Session drives one Chrome instance against x.com. It is not safe
// for concurrent use; the collector serializes access.
type Session struct {
	cfg    *config.Config
	log    zerolog.Logger
	policy retry.Policy

	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	ctx           context.Context

	handle string
}

// New prepares a session; the browser launches on Start.
func New(cfg *config.Config, log zerolog.Logger) *Session {
	policy := retry.DefaultPolicy()
	policy.Timeout = cfg.Browser.NavTimeout()
	return &Session{
		cfg:    cfg,
		log:    log.With().Str("component", "session").Logger(),
		policy: policy,
		handle: cfg.Account.Handle,
	}
}

// Handle returns the account whose likes are collected, once resolved.
func (s *Session) Handle() string {
	return s.handle
}

// Start launches Chrome against the app-owned profile directory.
// headful forces a visible window regardless of config, for manual
// login flows.
func (s *Session) Start(ctx context.Context, headful bool) error {
	profileDir, err := s.cfg.ProfileDir()
	if err != nil {
		return fmt.Errorf("resolve profile dir: %w", err)
	}

	headless := s.cfg.Browser.Headless && !headful
	opts := browser.Options(headless, profileDir, s.cfg.Browser.ChromePath)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force Chrome to actually start so a broken install fails here,
	// not mid-run.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return navErr("launch", "", err)
	}

	s.allocCancel = allocCancel
	s.browserCancel = browserCancel
	s.ctx = browserCtx
	s.log.Debug().Bool("headless", headless).Str("profile", profileDir).Msg("browser started")
	return nil
}

// Close tears the browser down. Safe to call twice.
func (s *Session) Close() {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.ctx = nil
}

// FeedURL is the likes feed for a handle.
func FeedURL(handle string) string {
	return "https://x.com/" + handle + "/likes"
}

// StatusURL is the canonical conversation view for a post id.
func StatusURL(id string) string {
	return "https://x.com/i/status/" + id
}

// EnsureFeed navigates to the likes feed and leaves it usable, walking
// the session states on the way: logged out (wait for a manual login,
// bounded), logged in with the feed loading, feed loaded. An account
// whose likes feed stays empty counts as loaded with zero posts. It
// resolves the account handle from the side nav when config leaves it
// empty.
func (s *Session) EnsureFeed(ctx context.Context) error {
	start := "https://x.com/home"
	if s.handle != "" {
		start = FeedURL(s.handle)
	}

	err := s.policy.Do(ctx, s.log, "load feed", func(ctx context.Context) error {
		return s.run(ctx, chromedp.Navigate(start))
	})
	if err != nil {
		return navErr("navigate", start, err)
	}

	state, err := s.feedState(ctx)
	if err != nil {
		return navErr("detect state", start, err)
	}
	if state == stateLoggedOut {
		s.log.Warn().Msg("not logged in, waiting for manual login in the browser window")
		if err := s.waitForLogin(ctx); err != nil {
			return navErr("login", start, err)
		}
	}

	if s.handle == "" {
		handle, err := s.resolveHandle(ctx)
		if err != nil {
			return navErr("resolve handle", start, err)
		}
		s.handle = handle
		s.log.Info().Str("handle", handle).Msg("resolved account handle")
	}

	feed := FeedURL(s.handle)
	err = s.policy.Do(ctx, s.log, "open likes feed", func(ctx context.Context) error {
		return s.run(ctx, chromedp.Navigate(feed))
	})
	if err != nil {
		return navErr("open likes", feed, err)
	}
	if err := s.awaitFeed(ctx); err != nil {
		return navErr("open likes", feed, err)
	}

	if err := s.saveSnapshot(ctx); err != nil {
		s.log.Warn().Err(err).Msg("could not save session snapshot")
	}
	return nil
}

// feedState classifies the current page without waiting: a login link
// means logged out, rendered articles mean the feed is up, a side nav
// without articles means logged in with nothing rendered, which is
// either still loading or an account with no likes.
func (s *Session) feedState(ctx context.Context) (feedState, error) {
	const js = `(function() {
		if (document.querySelector('` + selSideNav + `')) {
			return document.querySelector('` + selArticle + `') ? 'feed' : 'empty';
		}
		if (document.querySelector('` + selLoginLink + `')) return 'logged-out';
		return 'pending';
	})()`

	var state string
	err := s.run(ctx, chromedp.Evaluate(js, &state))
	if err != nil {
		return "", err
	}
	return feedState(state), nil
}

// waitForLogin polls until the user finishes logging in by hand,
// bounded by the configured login wait. The caller must have started
// the browser headful for this to be possible at all.
func (s *Session) waitForLogin(ctx context.Context) error {
	deadline := time.After(s.cfg.Browser.LoginWait())
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("no login after %s", s.cfg.Browser.LoginWait())
		case <-ticker.C:
			state, err := s.feedState(ctx)
			if err != nil {
				continue
			}
			if state != stateLoggedOut {
				s.log.Info().Msg("login detected")
				return nil
			}
		}
	}
}

// emptyFeedTicks is how many consecutive logged-in-but-empty polls
// count as an account with no likes rather than a feed still loading.
const emptyFeedTicks = 6

// feedProgress folds successive page states into a verdict while the
// likes feed loads.
type feedProgress struct {
	empties int
}

// Observe returns done once polling can stop. Rendered articles
// resolve immediately; a page that stays logged in with no articles
// for emptyFeedTicks polls in a row is an empty likes feed, a
// successful load of zero posts. Losing the login mid-poll can never
// resolve into a feed.
func (f *feedProgress) Observe(state feedState) (done bool, err error) {
	switch state {
	case stateFeedLoaded:
		return true, nil
	case stateFeedEmpty:
		f.empties++
		return f.empties >= emptyFeedTicks, nil
	case stateLoggedOut:
		return true, fmt.Errorf("session lost while loading the likes feed")
	default:
		f.empties = 0
		return false, nil
	}
}

// awaitFeed polls the page until the likes feed is usable: articles
// rendered, or verifiably an account with no likes. Bounded by the
// navigation timeout.
func (s *Session) awaitFeed(ctx context.Context) error {
	deadline := time.After(s.cfg.Browser.NavTimeout())
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var progress feedProgress
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("likes feed did not load within %s", s.cfg.Browser.NavTimeout())
		case <-ticker.C:
			state, stateErr := s.feedState(ctx)
			if stateErr != nil {
				continue
			}
			done, err := progress.Observe(state)
			if err != nil {
				return err
			}
			if done {
				if state == stateFeedEmpty {
					s.log.Info().Msg("likes feed rendered no posts")
				}
				return nil
			}
		}
	}
}

// resolveHandle reads the logged-in account's handle from the profile
// link in the side nav.
func (s *Session) resolveHandle(ctx context.Context) (string, error) {
	var href string
	var ok bool
	err := s.policy.Do(ctx, s.log, "resolve handle", func(ctx context.Context) error {
		return s.run(ctx,
			chromedp.AttributeValue(selProfileLink, "href", &href, &ok, chromedp.ByQuery),
		)
	})
	if err != nil {
		return "", err
	}
	handle := strings.TrimPrefix(strings.TrimSpace(href), "/")
	if !ok || handle == "" {
		return "", fmt.Errorf("profile link missing from side nav")
	}
	return handle, nil
}

// HarvestFunc inspects the current page and reports how many new items
// it found. Paginate uses the count to drive stall detection. An alias
// so callers can pass plain function literals and consumers can define
// their own interface over Paginate.
type HarvestFunc = func(ctx context.Context) (int, error)

// Paginate scrolls the current page until either maxScrolls is reached
// or the harvest reports nothing new for the configured stall limit in
// a row. The dual bound caps worst-case runtime and wasted work on an
// exhausted feed. The context is checked every iteration so a stop
// request takes effect within one scroll cycle.
func (s *Session) Paginate(ctx context.Context, maxScrolls int, harvest HarvestFunc) error {
	stall := NewStallTracker(s.cfg.Collection.StallScrollLimit)

	for scroll := 0; scroll < maxScrolls; scroll++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		fresh, err := harvest(ctx)
		if err != nil {
			return fmt.Errorf("harvest at scroll %d: %w", scroll, err)
		}
		if stall.Observe(fresh) {
			s.log.Debug().Int("scrolls", scroll).Msg("feed exhausted, stopping pagination")
			return nil
		}

		if err := s.scroll(ctx); err != nil {
			return navErr("scroll", "", err)
		}
		if err := retry.Wait(ctx, s.cfg.Collection.ScrollSettle()); err != nil {
			return err
		}
	}
	s.log.Debug().Int("scrolls", maxScrolls).Msg("scroll bound reached, stopping pagination")
	return nil
}

func (s *Session) scroll(ctx context.Context) error {
	return s.run(ctx,
		chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
	)
}

// Articles snapshots the outer HTML of every article currently
// rendered, skipping ids seen already this run. The snapshots go to
// the extraction layer; the page itself stays the only place chromedp
// sees.
func (s *Session) Articles(ctx context.Context, seen map[string]bool) ([]string, error) {
	const js = `(function() {
		const out = [];
		document.querySelectorAll('` + selArticle + `').forEach(el => {
			const link = el.querySelector('a[href*="/status/"]');
			const id = link?.href?.match(/status\/(\d+)/)?.[1];
			out.push({id: id || '', html: el.outerHTML});
		});
		return out;
	})()`

	var raw []struct {
		ID   string `json:"id"`
		HTML string `json:"html"`
	}
	if err := s.run(ctx, chromedp.Evaluate(js, &raw)); err != nil {
		return nil, fmt.Errorf("snapshot articles: %w", err)
	}

	var snapshots []string
	for _, a := range raw {
		if a.ID == "" || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		snapshots = append(snapshots, a.HTML)
	}
	return snapshots, nil
}

// OpenConversation navigates to the canonical single-post view of a
// conversation and waits for it to render.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	url := StatusURL(conversationID)
	err := s.policy.Do(ctx, s.log, "open conversation", func(ctx context.Context) error {
		return s.run(ctx,
			chromedp.Navigate(url),
			chromedp.WaitVisible(selArticle, chromedp.ByQuery),
		)
	})
	if err != nil {
		return navErr("open conversation", url, err)
	}
	return nil
}

// saveSnapshot records the session markers next to the archive so
// status callers can answer "am I logged in" without Chrome.
func (s *Session) saveSnapshot(ctx context.Context) error {
	path, err := s.cfg.SessionPath()
	if err != nil {
		return err
	}

	var snap Snapshot
	err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		snap = NewSnapshot(s.handle, cookies)
		return nil
	}))
	if err != nil {
		return err
	}
	return SaveSnapshot(path, snap)
}

// run executes chromedp actions on the browser context, bounded by the
// caller's cancellation and deadline. chromedp actions must run on the
// browser context, but the caller's ctx carries run cancellation and
// the per-attempt timeout.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx == nil {
		return fmt.Errorf("session not started")
	}
	var merged context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		merged, cancel = context.WithDeadline(s.ctx, deadline)
	} else {
		merged, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(merged, actions...)
}

// StallTracker counts consecutive harvests that produced nothing new.
type StallTracker struct {
	limit  int
	stalls int
}

// NewStallTracker stops pagination after limit consecutive empty
// harvests. A non-positive limit falls back to 3.
func NewStallTracker(limit int) *StallTracker {
	if limit <= 0 {
		limit = 3
	}
	return &StallTracker{limit: limit}
}

// Observe records a harvest result and reports whether pagination
// should stop.
func (t *StallTracker) Observe(fresh int) bool {
	if fresh > 0 {
		t.stalls = 0
		return false
	}
	t.stalls++
	return t.stalls >= t.limit
}
