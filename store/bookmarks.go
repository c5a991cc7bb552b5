package store

import (
	"database/sql"
	"errors"
)

// AddBookmark performs the count-then-insert atomically inside one
// transaction. When the ceiling is reached it fails with
// ErrBookmarkLimit and writes nothing. Re-saving an existing bookmark
// id adds no row, so the ceiling does not apply to it.
func (s *Store) AddBookmark(b *Bookmark) error {
	return s.db.Run("add bookmark", func() error {
		var existing int
		if err := s.db.Tx.Get(&existing, "SELECT count(*) FROM bookmarks WHERE bookmark_id = ?", b.BookmarkID); err != nil {
			return err
		}
		if existing == 0 {
			var count int
			if err := s.db.Tx.Get(&count, "SELECT count(*) FROM bookmarks"); err != nil {
				return err
			}
			if count >= s.config.MaxBookmarks {
				return ErrBookmarkLimit
			}
		}
		_, err := s.db.Tx.NamedExec(`
INSERT INTO bookmarks (bookmark_id, message_id, space_id, channel_id, conversation_id, source_type, created_at, cached_preview)
VALUES (:bookmark_id, :message_id, :space_id, :channel_id, :conversation_id, :source_type, :created_at, :cached_preview)
ON CONFLICT(bookmark_id) DO UPDATE SET
	message_id = :message_id,
	cached_preview = :cached_preview`, b)
		return err
	})
}

// GetBookmarks lists bookmarks newest-first by creation time.
func (s *Store) GetBookmarks() ([]*Bookmark, error) {
	var bookmarks []*Bookmark
	if err := s.db.RunReadOnly("get bookmarks", func() error {
		return s.db.Tx.Select(&bookmarks, "SELECT * FROM bookmarks ORDER BY created_at DESC")
	}); err != nil {
		return nil, err
	}
	return bookmarks, nil
}

// GetBookmarkByMessage is the by_message lookup backing "is this
// message bookmarked" checks.
func (s *Store) GetBookmarkByMessage(messageID string) (*Bookmark, error) {
	b := &Bookmark{}
	if err := s.db.RunReadOnly("get bookmark by message", func() error {
		return s.db.Tx.Get(b, "SELECT * FROM bookmarks WHERE message_id = ? LIMIT 1", messageID)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) DeleteBookmark(bookmarkID string) error {
	return s.db.Run("delete bookmark", func() error {
		_, err := s.db.Tx.Exec("DELETE FROM bookmarks WHERE bookmark_id = ?", bookmarkID)
		return err
	})
}

func (s *Store) CountBookmarks() (int, error) {
	var count int
	if err := s.db.RunReadOnly("count bookmarks", func() error {
		return s.db.Tx.Get(&count, "SELECT count(*) FROM bookmarks")
	}); err != nil {
		return 0, err
	}
	return count, nil
}
