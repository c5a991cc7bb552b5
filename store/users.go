package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// DMData is the exportable slice of direct-conversation state. Spaces
// are re-derived from their hosts on restore, so only DM rows travel.
type DMData struct {
	Conversations    []*Conversation    `json:"conversations"`
	Messages         []*Message         `json:"messages"`
	EncryptionStates []*EncryptionState `json:"encryptionStates"`
	UserConfigs      []*UserConfig      `json:"userConfigs"`
}

func (s *Store) GetUserConfig(address string) (*UserConfig, error) {
	c := &UserConfig{}
	if err := s.db.RunReadOnly("get user config", func() error {
		return s.db.Tx.Get(c, "SELECT * FROM user_config WHERE address = ?", address)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *Store) SaveUserConfig(c *UserConfig) error {
	return s.db.Run("save user config", func() error {
		_, err := s.db.Tx.NamedExec(`
INSERT INTO user_config (address, config)
VALUES (:address, :config)
ON CONFLICT(address) DO UPDATE SET config = :config`, c)
		return err
	})
}

func (s *Store) GetAllUserConfigs() ([]*UserConfig, error) {
	var configs []*UserConfig
	if err := s.db.RunReadOnly("get all user configs", func() error {
		return s.db.Tx.Select(&configs, "SELECT * FROM user_config ORDER BY address ASC")
	}); err != nil {
		return nil, err
	}
	return configs, nil
}

// GetAllDMData gathers every direct conversation with its messages,
// ratchet states and user configs in one read transaction, so the
// export is a consistent snapshot.
func (s *Store) GetAllDMData() (*DMData, error) {
	data := &DMData{}
	if err := s.db.RunReadOnly("get all dm data", func() error {
		if err := s.db.Tx.Select(&data.Conversations,
			"SELECT * FROM conversations WHERE type = ? ORDER BY timestamp ASC", ConversationDirect); err != nil {
			return err
		}
		for _, c := range data.Conversations {
			var messages []*Message
			if err := s.db.Tx.Select(&messages, fmt.Sprintf(
				"SELECT %s FROM messages WHERE space_id = ? AND channel_id = ? ORDER BY created_date ASC", messageColumns),
				c.ConversationID, c.ConversationID); err != nil {
				return err
			}
			data.Messages = append(data.Messages, messages...)

			var states []*EncryptionState
			if err := s.db.Tx.Select(&states,
				"SELECT * FROM encryption_states WHERE conversation_id = ? ORDER BY timestamp ASC", c.ConversationID); err != nil {
				return err
			}
			data.EncryptionStates = append(data.EncryptionStates, states...)
		}
		return s.db.Tx.Select(&data.UserConfigs, "SELECT * FROM user_config ORDER BY address ASC")
	}); err != nil {
		return nil, err
	}
	return data, nil
}

// ImportDMData restores conversations and messages from an exported
// snapshot. Ratchet states are deliberately not restored; new sessions
// are negotiated on next contact. Messages carrying a deletion
// tombstone are skipped so a restore cannot resurrect deleted content.
// Returns the number of messages and conversations written.
func (s *Store) ImportDMData(data *DMData) (int, int, error) {
	var wroteMessages, wroteConversations int
	if err := s.db.Run("import dm data", func() error {
		for _, c := range data.Conversations {
			if c.Type != ConversationDirect {
				continue
			}
			if err := s.upsertConversationTx(c); err != nil {
				return err
			}
			wroteConversations++
		}
		for _, m := range data.Messages {
			var count int
			if err := s.db.Tx.Get(&count, "SELECT count(*) FROM deleted_messages WHERE message_id = ?", m.MessageID); err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := s.upsertMessageTx(m); err != nil {
				return err
			}
			wroteMessages++
		}
		return nil
	}); err != nil {
		return 0, 0, err
	}
	return wroteMessages, wroteConversations, nil
}
