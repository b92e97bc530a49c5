package store

import (
	"fmt"

	"likevault/internal/types"
)

// SaveThread records a reconstructed conversation as one unit: the
// member positions, the root flag and the thread length all land in a
// single transaction. Re-saving a root replaces its previous
// memberships, so a conversation that grew since the last run gets its
// positions rewritten contiguously instead of colliding with stale
// rows.
//
// memberIDs is the full ordered member list, root first. Every member
// must already be an archived post; callers verify that before calling
// (the all-or-nothing rule lives with them, the transaction only makes
// the write atomic).
func (s *Store) SaveThread(rootID string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return fmt.Errorf("save thread %s: empty member list", rootID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save thread %s: %w", rootID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM thread_memberships WHERE root_id = ?`, rootID); err != nil {
		return fmt.Errorf("clear memberships for %s: %w", rootID, err)
	}

	for i, memberID := range memberIDs {
		if _, err := tx.Exec(
			`INSERT INTO thread_memberships (root_id, member_id, position) VALUES (?, ?, ?)`,
			rootID, memberID, i+1,
		); err != nil {
			return fmt.Errorf("insert membership %s -> %s: %w", rootID, memberID, err)
		}
	}

	res, err := tx.Exec(
		`UPDATE posts SET is_thread_root = 1, thread_length = ? WHERE id = ?`,
		len(memberIDs), rootID,
	)
	if err != nil {
		return fmt.Errorf("flag thread root %s: %w", rootID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("flag thread root %s: post not archived", rootID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit thread %s: %w", rootID, err)
	}
	return nil
}

// ThreadMembers returns a conversation's posts ordered by their thread
// position. An unknown root returns an empty slice.
func (s *Store) ThreadMembers(rootID string) ([]types.Post, error) {
	rows, err := s.db.Query(selectPost+`
		JOIN thread_memberships tm ON tm.member_id = posts.id
		WHERE tm.root_id = ?
		ORDER BY tm.position`,
		rootID,
	)
	if err != nil {
		return nil, fmt.Errorf("query thread members for %s: %w", rootID, err)
	}
	defer rows.Close()
	return collectPosts(rows)
}
