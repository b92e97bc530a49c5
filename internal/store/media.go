package store

import (
	"fmt"

	"likevault/internal/types"
)

var mediaTypeIDs = map[types.MediaKind]int{
	types.MediaImage:    1,
	types.MediaVideo:    2,
	types.MediaAnimated: 3,
	types.MediaCard:     4,
}

var mediaTypeNames = map[int]types.MediaKind{
	1: types.MediaImage,
	2: types.MediaVideo,
	3: types.MediaAnimated,
	4: types.MediaCard,
}

// ExistsMedia reports whether an asset has already been archived for a
// post. The (post, origin URL) pair is the dedup key; content hashes
// are deliberately not involved.
func (s *Store) ExistsMedia(postID, originURL string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM media_items WHERE post_id = ? AND origin_url = ?)`,
		postID, originURL,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check media %s %s: %w", postID, originURL, err)
	}
	return exists, nil
}

// InsertMedia records a fetched asset. A concurrent worker landing the
// same (post, origin URL) pair first wins silently; the unique
// constraint plus DO NOTHING makes the race harmless.
func (s *Store) InsertMedia(item types.MediaItem) error {
	typeID, ok := mediaTypeIDs[item.Kind]
	if !ok {
		return fmt.Errorf("unknown media kind %q", item.Kind)
	}
	_, err := s.db.Exec(`
		INSERT INTO media_items (post_id, type_id, origin_url, local_path, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (post_id, origin_url) DO NOTHING`,
		item.PostID, typeID, item.URL, item.LocalPath, item.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert media %s for %s: %w", item.URL, item.PostID, err)
	}
	return nil
}

// MediaForPost returns the archived assets of a post.
func (s *Store) MediaForPost(postID string) ([]types.MediaItem, error) {
	rows, err := s.db.Query(`
		SELECT post_id, type_id, origin_url, local_path, fetched_at
		FROM media_items WHERE post_id = ? ORDER BY id`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("query media for %s: %w", postID, err)
	}
	defer rows.Close()

	var items []types.MediaItem
	for rows.Next() {
		var item types.MediaItem
		var typeID int
		if err := rows.Scan(&item.PostID, &typeID, &item.URL, &item.LocalPath, &item.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan media item: %w", err)
		}
		item.Kind = mediaTypeNames[typeID]
		items = append(items, item)
	}
	return items, rows.Err()
}
