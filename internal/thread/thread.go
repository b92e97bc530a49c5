// Package thread reconstructs multi-post conversations. For each
// conversation discovered during collection it walks the canonical
// single-post view, archives members the store does not know yet and
// records the ordered membership. Threads are all-or-nothing: when any
// member cannot be verified as archived, nothing is written for that
// conversation this run; discovery re-runs next time, so a skip heals
// itself.
package thread

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"likevault/internal/extract"
	"likevault/internal/types"
)

// Navigator is the slice of the browser session reconstruction needs.
type Navigator interface {
	OpenConversation(ctx context.Context, conversationID string) error
	Paginate(ctx context.Context, maxScrolls int, harvest func(ctx context.Context) (int, error)) error
	Articles(ctx context.Context, seen map[string]bool) ([]string, error)
}

// Store is the slice of persistence reconstruction needs.
type Store interface {
	Exists(id string) (bool, error)
	InsertPost(p types.Post, links []types.Link) error
	HighestRank() (int64, error)
	SaveThread(rootID string, memberIDs []string) error
}

// Result tallies one reconstruction pass.
type Result struct {
	Saved    int // conversations whose membership was written
	Skipped  int // conversations skipped whole (unverified members or failures)
	Inserted int // members archived during reconstruction
	// NewMedia collects the media refs of members archived here, so
	// the collector can hand them to the download pool with the rest.
	NewMedia []types.MediaRef
}

// Reconstructor drives conversation reconstruction over one browser
// session.
type Reconstructor struct {
	nav        Navigator
	store      Store
	ext        *extract.Extractor
	maxScrolls int
	log        zerolog.Logger
}

func New(nav Navigator, store Store, ext *extract.Extractor, maxScrolls int, log zerolog.Logger) *Reconstructor {
	if maxScrolls < 1 {
		maxScrolls = 1
	}
	return &Reconstructor{
		nav:        nav,
		store:      store,
		ext:        ext,
		maxScrolls: maxScrolls,
		log:        log.With().Str("component", "thread").Logger(),
	}
}

// Run reconstructs every distinct conversation among the candidates.
// Per-conversation failures degrade to skips; only context
// cancellation stops the loop, checked before each conversation so a
// stop request takes effect within one navigation.
func (r *Reconstructor) Run(ctx context.Context, candidates []types.Candidate) (Result, error) {
	var res Result
	for _, convID := range Conversations(candidates) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.reconstruct(ctx, convID, &res); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Skipped++
			r.log.Warn().Str("conversation_id", convID).Err(err).
				Msg("conversation skipped")
		}
	}
	return res, nil
}

// Conversations returns the distinct conversation ids among the
// candidates, in first-seen order.
func Conversations(candidates []types.Candidate) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		id := c.Post.ConversationID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// reconstruct handles one conversation end to end.
func (r *Reconstructor) reconstruct(ctx context.Context, convID string, res *Result) error {
	if err := r.nav.OpenConversation(ctx, convID); err != nil {
		return err
	}

	// Collect the conversation's articles in display order, scrolling
	// until the page is exhausted or the bound is hit.
	var ordered []types.Candidate
	seen := make(map[string]bool)
	err := r.nav.Paginate(ctx, r.maxScrolls, func(ctx context.Context) (int, error) {
		snapshots, err := r.nav.Articles(ctx, seen)
		if err != nil {
			return 0, err
		}
		fresh := 0
		for _, html := range snapshots {
			if c, ok := r.ext.Article(html); ok {
				ordered = append(ordered, c)
				fresh++
			}
		}
		return fresh, nil
	})
	if err != nil {
		return err
	}
	if len(ordered) == 0 {
		return fmt.Errorf("conversation rendered no posts")
	}

	members := SelfThread(ordered)
	if len(members) < 2 {
		// A lone post is not a thread; nothing to record, nothing to
		// skip.
		r.log.Debug().Str("conversation_id", convID).Msg("no self-thread found")
		return nil
	}

	if err := r.archiveMembers(members, res); err != nil {
		return err
	}

	// The all-or-nothing gate: every member must be verifiably
	// archived before any membership row is written.
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		exists, err := r.store.Exists(m.Post.ID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("member %s not archived, thread withheld", m.Post.ID)
		}
		memberIDs = append(memberIDs, m.Post.ID)
	}

	if err := r.store.SaveThread(memberIDs[0], memberIDs); err != nil {
		return err
	}
	res.Saved++
	r.log.Info().
		Str("conversation_id", convID).
		Str("root_id", memberIDs[0]).
		Int("members", len(memberIDs)).
		Msg("thread recorded")
	return nil
}

// SelfThread filters a conversation's posts down to the author's own
// thread: the root post plus every later post by the same handle, in
// display order. Replies by other accounts are conversation noise, not
// thread members.
func SelfThread(ordered []types.Candidate) []types.Candidate {
	rootHandle := ordered[0].Post.AuthorHandle
	if rootHandle == "" {
		return ordered[:1]
	}
	var members []types.Candidate
	for _, c := range ordered {
		if c.Post.AuthorHandle == rootHandle {
			members = append(members, c)
		}
	}
	return members
}

// archiveMembers inserts members the store does not know yet, ranked
// above everything already archived.
func (r *Reconstructor) archiveMembers(members []types.Candidate, res *Result) error {
	var fresh []types.Candidate
	for _, m := range members {
		exists, err := r.store.Exists(m.Post.ID)
		if err != nil {
			return err
		}
		if !exists {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	base, err := r.store.HighestRank()
	if err != nil {
		return err
	}
	for i := range fresh {
		fresh[i].Post.CollectionRank = base + int64(i) + 1
		if err := r.store.InsertPost(fresh[i].Post, fresh[i].Links); err != nil {
			return fmt.Errorf("archive member %s: %w", fresh[i].Post.ID, err)
		}
		res.Inserted++
		res.NewMedia = append(res.NewMedia, fresh[i].Media...)
	}
	return nil
}
