package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"likevault/internal/types"
)

// Exists reports whether a post is already archived.
func (s *Store) Exists(id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM posts WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check post %s: %w", id, err)
	}
	return exists, nil
}

// InsertPost writes a post and all of its links in one transaction.
// Either the post row and every link row land, or none of them do.
// Post identity is first-seen-wins: inserting an id that already
// exists is an error, callers filter with Exists beforehand.
func (s *Store) InsertPost(p types.Post, links []types.Link) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert %s: %w", p.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO posts (
			id, author_handle, author_name, content_text, content_html,
			posted_at, collected_at, collection_rank,
			likes, reposts, replies,
			has_media, has_links, is_quote,
			card_json, conversation_id, is_thread_root, thread_length,
			permalink_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AuthorHandle, p.AuthorName, p.ContentText, p.ContentHTML,
		nullTime(p.PostedAt), p.CollectedAt, p.CollectionRank,
		p.Likes, p.Reposts, p.Replies,
		p.HasMedia, p.HasLinks, p.IsQuote,
		p.CardJSON, p.ConversationID, p.IsThreadRoot, p.ThreadLength,
		p.PermalinkURL,
	)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.ID, err)
	}

	for _, l := range links {
		if _, err := tx.Exec(
			`INSERT INTO links (post_id, url, resolved_url) VALUES (?, ?, ?)`,
			p.ID, l.URL, l.Resolved,
		); err != nil {
			return fmt.Errorf("insert link %s for post %s: %w", l.URL, p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert %s: %w", p.ID, err)
	}
	return nil
}

// RefreshMetrics updates the engagement counters of an already
// archived post. The metrics carve-out to first-seen-wins: counts
// drift upstream and the freshest observation is the useful one.
func (s *Store) RefreshMetrics(id string, likes, reposts, replies int) error {
	_, err := s.db.Exec(
		`UPDATE posts SET likes = ?, reposts = ?, replies = ? WHERE id = ?`,
		likes, reposts, replies, id,
	)
	if err != nil {
		return fmt.Errorf("refresh metrics for %s: %w", id, err)
	}
	return nil
}

// HighestRank returns the largest collection rank stored, 0 when the
// archive is empty. New batches start above it so later runs always
// rank above earlier ones.
func (s *Store) HighestRank() (int64, error) {
	var rank sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(collection_rank) FROM posts`).Scan(&rank); err != nil {
		return 0, fmt.Errorf("query highest rank: %w", err)
	}
	return rank.Int64, nil
}

// Post fetches one archived post, or nil when it is not archived.
func (s *Store) Post(id string) (*types.Post, error) {
	row := s.db.QueryRow(selectPost+` WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load post %s: %w", id, err)
	}
	return &p, nil
}

// RecentPosts returns the most recently collected posts, newest
// collection first.
func (s *Store) RecentPosts(limit int) ([]types.Post, error) {
	rows, err := s.db.Query(selectPost+` ORDER BY collection_rank DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

// Links returns a post's links in the order they appeared in its text.
func (s *Store) Links(postID string) ([]types.Link, error) {
	rows, err := s.db.Query(
		`SELECT post_id, url, resolved_url FROM links WHERE post_id = ? ORDER BY id`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("query links for %s: %w", postID, err)
	}
	defer rows.Close()

	var links []types.Link
	for rows.Next() {
		var l types.Link
		if err := rows.Scan(&l.PostID, &l.URL, &l.Resolved); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

const selectPost = `
	SELECT id, author_handle, author_name, content_text, content_html,
	       posted_at, collected_at, collection_rank,
	       likes, reposts, replies,
	       has_media, has_links, is_quote,
	       card_json, conversation_id, is_thread_root, thread_length,
	       permalink_url
	FROM posts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (types.Post, error) {
	var p types.Post
	var postedAt sql.NullTime
	err := r.Scan(
		&p.ID, &p.AuthorHandle, &p.AuthorName, &p.ContentText, &p.ContentHTML,
		&postedAt, &p.CollectedAt, &p.CollectionRank,
		&p.Likes, &p.Reposts, &p.Replies,
		&p.HasMedia, &p.HasLinks, &p.IsQuote,
		&p.CardJSON, &p.ConversationID, &p.IsThreadRoot, &p.ThreadLength,
		&p.PermalinkURL,
	)
	if postedAt.Valid {
		p.PostedAt = postedAt.Time
	}
	return p, err
}

func collectPosts(rows *sql.Rows) ([]types.Post, error) {
	var posts []types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
