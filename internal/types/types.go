package types

import (
	"fmt"
	"time"
)

// Mode selects how deep a collection run pages through the likes feed.
type Mode string

const (
	// ModeIncremental runs a shallow pass meant for scheduled pickups of
	// recent likes.
	ModeIncremental Mode = "incremental"
	// ModeBackfill pages as deep as the feed will serve, for first runs
	// and recovery after long gaps.
	ModeBackfill Mode = "backfill"
)

// ParseMode converts a user-supplied mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIncremental, ModeBackfill:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown collection mode %q", s)
}

// Post is an archived liked post.
type Post struct {
	ID             string    `json:"id"`
	AuthorHandle   string    `json:"author_handle"`
	AuthorName     string    `json:"author_name"`
	ContentText    string    `json:"content_text"`
	ContentHTML    string    `json:"content_html"`
	PostedAt       time.Time `json:"posted_at"`
	CollectedAt    time.Time `json:"collected_at"`
	CollectionRank int64     `json:"collection_rank"`
	Likes          int       `json:"likes"`
	Reposts        int       `json:"reposts"`
	Replies        int       `json:"replies"`
	HasMedia       bool      `json:"has_media"`
	HasLinks       bool      `json:"has_links"`
	IsQuote        bool      `json:"is_quote"`
	CardJSON       string    `json:"card_json,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	IsThreadRoot   bool      `json:"is_thread_root"`
	ThreadLength   int       `json:"thread_length"`
	PermalinkURL   string    `json:"permalink_url"`
}

// Link is a URL that appeared in a post's text, kept in the order it
// appeared.
type Link struct {
	PostID   string `json:"post_id"`
	URL      string `json:"url"`      // as rendered in the feed, usually a t.co shortener
	Resolved string `json:"resolved"` // after following redirects; equals URL when resolution failed
}

// MediaKind classifies an asset attached to a post.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAnimated MediaKind = "animated_gif"
	MediaCard     MediaKind = "card"
)

// MediaRef points at a remote asset attached to a post.
type MediaRef struct {
	PostID string    `json:"post_id"`
	URL    string    `json:"url"`
	Kind   MediaKind `json:"kind"`
}

// MediaItem is a MediaRef that has been fetched and written to the
// local archive.
type MediaItem struct {
	MediaRef
	LocalPath string    `json:"local_path"` // relative to the media root
	FetchedAt time.Time `json:"fetched_at"`
}

// Candidate is a post as extracted from the feed, before persistence
// has decided whether it is new.
type Candidate struct {
	Post  Post
	Links []Link
	Media []MediaRef
}

// RunCounts tallies one collection run.
type RunCounts struct {
	Attempted      int `json:"attempted"`
	Inserted       int `json:"inserted"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
	MediaSaved     int `json:"media_saved"`
	MediaSkipped   int `json:"media_skipped"`
	MediaFailed    int `json:"media_failed"`
	ThreadsSaved   int `json:"threads_saved"`
	ThreadsSkipped int `json:"threads_skipped"`
}

// RunStats is the collector state reported to status callers. It lives
// in memory only; the summary of the last run survives until the next
// one starts.
type RunStats struct {
	Running   bool      `json:"running"`
	Mode      Mode      `json:"mode,omitempty"`
	StartedAt time.Time `json:"started_at"`
	LastRunAt time.Time `json:"last_run_at"`
	LastError string    `json:"last_error,omitempty"`
	Counts    RunCounts `json:"counts"`
}
