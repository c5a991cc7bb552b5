package store

import (
	"database/sql"
	"errors"
)

func (s *Store) GetSpace(spaceID string) (*Space, error) {
	sp := &Space{}
	if err := s.db.RunReadOnly("get space", func() error {
		return s.db.Tx.Get(sp, "SELECT * FROM spaces WHERE space_id = ?", spaceID)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sp, nil
}

func (s *Store) GetSpaces() ([]*Space, error) {
	var spaces []*Space
	if err := s.db.RunReadOnly("get spaces", func() error {
		return s.db.Tx.Select(&spaces, "SELECT * FROM spaces ORDER BY space_id ASC")
	}); err != nil {
		return nil, err
	}
	return spaces, nil
}

// SaveSpace upserts the space. DefaultChannelID must resolve to a
// channel in one of the groups.
func (s *Store) SaveSpace(sp *Space) error {
	if sp.DefaultChannelID != "" && !sp.HasChannel(sp.DefaultChannelID) {
		return ErrDanglingDefaultChannel
	}
	return s.db.Run("save space", func() error {
		_, err := s.db.Tx.NamedExec(`
INSERT INTO spaces (space_id, name, icon, default_channel_id, is_repudiable, is_public, groups, roles, emojis, stickers)
VALUES (:space_id, :name, :icon, :default_channel_id, :is_repudiable, :is_public, :groups, :roles, :emojis, :stickers)
ON CONFLICT(space_id) DO UPDATE SET
	name = :name,
	icon = :icon,
	default_channel_id = :default_channel_id,
	is_repudiable = :is_repudiable,
	is_public = :is_public,
	groups = :groups,
	roles = :roles,
	emojis = :emojis,
	stickers = :stickers`, sp)
		return err
	})
}

// DeleteSpace removes the space row and returns the removed space, or
// ErrNotFound if it never existed.
func (s *Store) DeleteSpace(spaceID string) (*Space, error) {
	sp := &Space{}
	if err := s.db.Run("delete space", func() error {
		if err := s.db.Tx.Get(sp, "SELECT * FROM spaces WHERE space_id = ?", spaceID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		_, err := s.db.Tx.Exec("DELETE FROM spaces WHERE space_id = ?", spaceID)
		return err
	}); err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *Store) SaveSpaceMember(m *SpaceMember) error {
	return s.db.Run("save space member", func() error {
		_, err := s.db.Tx.NamedExec(`
INSERT INTO space_members (space_id, user_address, inbox_address, display_name, user_icon)
VALUES (:space_id, :user_address, :inbox_address, :display_name, :user_icon)
ON CONFLICT(space_id, user_address) DO UPDATE SET
	inbox_address = :inbox_address,
	display_name = :display_name,
	user_icon = :user_icon`, m)
		return err
	})
}

func (s *Store) GetSpaceMember(spaceID, userAddress string) (*SpaceMember, error) {
	m := &SpaceMember{}
	if err := s.db.RunReadOnly("get space member", func() error {
		return s.db.Tx.Get(m, "SELECT * FROM space_members WHERE space_id = ? AND user_address = ?", spaceID, userAddress)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) GetSpaceMembers(spaceID string) ([]*SpaceMember, error) {
	var members []*SpaceMember
	if err := s.db.RunReadOnly("get space members", func() error {
		return s.db.Tx.Select(&members, "SELECT * FROM space_members WHERE space_id = ? ORDER BY user_address ASC", spaceID)
	}); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) DeleteSpaceMember(spaceID, userAddress string) error {
	return s.db.Run("delete space member", func() error {
		_, err := s.db.Tx.Exec("DELETE FROM space_members WHERE space_id = ? AND user_address = ?", spaceID, userAddress)
		return err
	})
}

// CountMembers answers the sync collaborator with the number of
// members held for a space.
func (s *Store) CountMembers(spaceID string) (int, error) {
	var count int
	if err := s.db.RunReadOnly("count members", func() error {
		return s.db.Tx.Get(&count, "SELECT count(*) FROM space_members WHERE space_id = ?", spaceID)
	}); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) SaveSpaceKey(k *SpaceKey) error {
	return s.db.Run("save space key", func() error {
		_, err := s.db.Tx.NamedExec(`
INSERT INTO space_keys (space_id, key_id, address, public_key, private_key)
VALUES (:space_id, :key_id, :address, :public_key, :private_key)
ON CONFLICT(space_id, key_id) DO UPDATE SET
	address = :address,
	public_key = :public_key,
	private_key = :private_key`, k)
		return err
	})
}

func (s *Store) GetSpaceKey(spaceID, keyID string) (*SpaceKey, error) {
	k := &SpaceKey{}
	if err := s.db.RunReadOnly("get space key", func() error {
		return s.db.Tx.Get(k, "SELECT * FROM space_keys WHERE space_id = ? AND key_id = ?", spaceID, keyID)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return k, nil
}

func (s *Store) GetSpaceKeys(spaceID string) ([]*SpaceKey, error) {
	var keys []*SpaceKey
	if err := s.db.RunReadOnly("get space keys", func() error {
		return s.db.Tx.Select(&keys, "SELECT * FROM space_keys WHERE space_id = ? ORDER BY key_id ASC", spaceID)
	}); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteSpaceKey(spaceID, keyID string) error {
	return s.db.Run("delete space key", func() error {
		_, err := s.db.Tx.Exec("DELETE FROM space_keys WHERE space_id = ? AND key_id = ?", spaceID, keyID)
		return err
	})
}
