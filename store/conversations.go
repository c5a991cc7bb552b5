package store

import (
	"database/sql"
	"errors"
)

// A page of conversations, newest-first capable via by_type_time.
type ConversationPage struct {
	Conversations []*Conversation
	NextCursor    uint64
}

func (s *Store) GetConversation(conversationID string) (*Conversation, error) {
	c := &Conversation{}
	if err := s.db.RunReadOnly("get conversation", func() error {
		return s.db.Tx.Get(c, "SELECT * FROM conversations WHERE conversation_id = ?", conversationID)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// ConversationIDFor maps a space/channel pair to its conversation row
// id. Direct conversations use the counterparty address for all three
// of space id, channel id and conversation id; everything keyed by
// conversation id (messages, encryption states, search scopes) relies
// on this.
func ConversationIDFor(spaceID, channelID string) string {
	if spaceID == channelID {
		return spaceID
	}
	return spaceID + "/" + channelID
}

// GetConversations scans by_type_time ascending. With a cursor only
// rows strictly after it are returned, so callers resume a scan by
// passing NextCursor back in until it comes back zero.
func (s *Store) GetConversations(conversationType string, cursor uint64, limit int) (*ConversationPage, error) {
	if limit <= 0 {
		limit = 1000
	}
	page := &ConversationPage{}
	if err := s.db.RunReadOnly("get conversations", func() error {
		return s.db.Tx.Select(&page.Conversations,
			"SELECT * FROM conversations WHERE type = ? AND timestamp > ? ORDER BY timestamp ASC LIMIT ?", conversationType, cursor, limit)
	}); err != nil {
		return nil, err
	}
	if len(page.Conversations) == limit {
		page.NextCursor = page.Conversations[len(page.Conversations)-1].Timestamp
	}
	return page, nil
}

// SaveConversation upserts the full row. The by_type_time index is
// covered by the write since type and timestamp are both columns here.
func (s *Store) SaveConversation(c *Conversation) error {
	return s.db.Run("save conversation", func() error {
		return s.upsertConversationTx(c)
	})
}

func (s *Store) upsertConversationTx(c *Conversation) error {
	_, err := s.db.Tx.NamedExec(`
INSERT INTO conversations (conversation_id, address, type, timestamp, last_read_timestamp, icon, display_name)
VALUES (:conversation_id, :address, :type, :timestamp, :last_read_timestamp, :icon, :display_name)
ON CONFLICT(conversation_id) DO UPDATE SET
	address = :address,
	type = :type,
	timestamp = :timestamp,
	last_read_timestamp = :last_read_timestamp,
	icon = :icon,
	display_name = :display_name`, c)
	return err
}

// SaveReadTime advances only the last-read timestamp, preserving every
// other conversation field. Unknown conversations are a no-op.
func (s *Store) SaveReadTime(conversationID string, lastMessageTimestamp uint64) error {
	return s.db.Run("save read time", func() error {
		_, err := s.db.Tx.Exec("UPDATE conversations SET last_read_timestamp = ? WHERE conversation_id = ?",
			lastMessageTimestamp, conversationID)
		return err
	})
}

func (s *Store) DeleteConversation(conversationID string) error {
	return s.db.Run("delete conversation", func() error {
		_, err := s.db.Tx.Exec("DELETE FROM conversations WHERE conversation_id = ?", conversationID)
		return err
	})
}

// SaveConversationUsers records the membership of a conversation, one
// row per address.
func (s *Store) SaveConversationUsers(conversationID string, addresses []string) error {
	return s.db.Run("save conversation users", func() error {
		for _, address := range addresses {
			if _, err := s.db.Tx.Exec(
				"INSERT INTO conversation_users (address, conversation_id) VALUES (?, ?) ON CONFLICT(address) DO UPDATE SET conversation_id = ?",
				address, conversationID, conversationID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetConversationUsers(conversationID string) ([]string, error) {
	var addresses []string
	if err := s.db.RunReadOnly("get conversation users", func() error {
		return s.db.Tx.Select(&addresses, "SELECT address FROM conversation_users WHERE conversation_id = ? ORDER BY address ASC", conversationID)
	}); err != nil {
		return nil, err
	}
	return addresses, nil
}
