package store

import (
	"database/sql"
	"errors"
)

// SaveMutedUser upserts a mute record. A record carrying the same mute
// id as the stored row is a replay (the same action arriving again via
// sync) and is dropped without a write.
func (s *Store) SaveMutedUser(m *MutedUser) error {
	return s.db.Run("save muted user", func() error {
		existing := &MutedUser{}
		err := s.db.Tx.Get(existing, "SELECT * FROM muted_users WHERE space_id = ? AND target_user_id = ?", m.SpaceID, m.TargetUserID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil && existing.LastMuteID == m.LastMuteID {
			return nil
		}
		_, err = s.db.Tx.NamedExec(`
INSERT INTO muted_users (space_id, target_user_id, expires_at, last_mute_id, muted_at)
VALUES (:space_id, :target_user_id, :expires_at, :last_mute_id, :muted_at)
ON CONFLICT(space_id, target_user_id) DO UPDATE SET
	expires_at = :expires_at,
	last_mute_id = :last_mute_id,
	muted_at = :muted_at`, m)
		return err
	})
}

// GetMutedUsers returns the active mutes for a space. Expired rows are
// filtered out, not deleted; an expires_at of zero is permanent.
func (s *Store) GetMutedUsers(spaceID string) ([]*MutedUser, error) {
	now := s.clock.CurrentTimeMs()
	var muted []*MutedUser
	if err := s.db.RunReadOnly("get muted users", func() error {
		return s.db.Tx.Select(&muted,
			"SELECT * FROM muted_users WHERE space_id = ? AND (expires_at = 0 OR expires_at > ?) ORDER BY target_user_id ASC",
			spaceID, now)
	}); err != nil {
		return nil, err
	}
	return muted, nil
}

// IsUserMuted reports whether the target currently has an active mute
// in the space.
func (s *Store) IsUserMuted(spaceID, targetUserID string) (bool, error) {
	now := s.clock.CurrentTimeMs()
	var count int
	if err := s.db.RunReadOnly("is user muted", func() error {
		return s.db.Tx.Get(&count,
			"SELECT count(*) FROM muted_users WHERE space_id = ? AND target_user_id = ? AND (expires_at = 0 OR expires_at > ?)",
			spaceID, targetUserID, now)
	}); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) DeleteMutedUser(spaceID, targetUserID string) error {
	return s.db.Run("delete muted user", func() error {
		_, err := s.db.Tx.Exec("DELETE FROM muted_users WHERE space_id = ? AND target_user_id = ?", spaceID, targetUserID)
		return err
	})
}
