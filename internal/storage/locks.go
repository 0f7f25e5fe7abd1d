package storage

import (
	"fmt"
	"time"
)

// AcquirePostLease claims the post for owner until now+ttl. It succeeds when
// no lease exists, the current one has expired, or owner already holds it.
// Every process sharing the database sees the same leases.
func (s *Store) AcquirePostLease(postID int64, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO post_locks (post_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE post_locks.expires_at <= ? OR post_locks.owner = excluded.owner`,
		postID, owner, formatTime(now.Add(ttl)), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("claiming lease on post %d: %w", postID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking lease on post %d: %w", postID, err)
	}
	return n == 1, nil
}

// ReleasePostLease drops owner's lease on the post. Releasing a lease held by
// someone else, or none at all, does nothing.
func (s *Store) ReleasePostLease(postID int64, owner string) error {
	if _, err := s.db.Exec(`DELETE FROM post_locks WHERE post_id = ? AND owner = ?`, postID, owner); err != nil {
		return fmt.Errorf("releasing lease on post %d: %w", postID, err)
	}
	return nil
}
