package store

import (
	"database/sql"
	"errors"
	"fmt"
)

type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// A page of messages in ascending chronological order. NextCursor
// continues pagination in the direction of travel and is set only when
// the page was full; PrevCursor is the opposite boundary of the page.
// Zero means no cursor.
type MessagePage struct {
	Messages   []*Message
	NextCursor uint64
	PrevCursor uint64
}

const messageColumns = "message_id, space_id, channel_id, created_date, content, reactions, mentions, replies_to, is_pinned, pinned_at, pinned_by"

// GetMessages paginates over (space_id, channel_id, created_date).
// Without a cursor it returns the latest limit messages. With a cursor,
// forward returns strictly-greater timestamps and backward
// strictly-lesser ones. Backward and no-cursor scans collect rows in
// descending order and reverse them before returning, so callers always
// see chronological order.
func (s *Store) GetMessages(spaceID, channelID string, cursor uint64, direction Direction, limit int) (*MessagePage, error) {
	if limit <= 0 {
		limit = 100
	}
	descending := cursor == 0 || direction == Backward
	page := &MessagePage{}
	if err := s.db.RunReadOnly("get messages", func() error {
		var err error
		switch {
		case cursor == 0:
			err = s.db.Tx.Select(&page.Messages, fmt.Sprintf(
				"SELECT %s FROM messages WHERE space_id = ? AND channel_id = ? ORDER BY created_date DESC LIMIT ?", messageColumns),
				spaceID, channelID, limit)
		case direction == Forward:
			err = s.db.Tx.Select(&page.Messages, fmt.Sprintf(
				"SELECT %s FROM messages WHERE space_id = ? AND channel_id = ? AND created_date > ? ORDER BY created_date ASC LIMIT ?", messageColumns),
				spaceID, channelID, cursor, limit)
		default:
			err = s.db.Tx.Select(&page.Messages, fmt.Sprintf(
				"SELECT %s FROM messages WHERE space_id = ? AND channel_id = ? AND created_date < ? ORDER BY created_date DESC LIMIT ?", messageColumns),
				spaceID, channelID, cursor, limit)
		}
		return err
	}); err != nil {
		return nil, err
	}

	if descending {
		for i, j := 0, len(page.Messages)-1; i < j; i, j = i+1, j-1 {
			page.Messages[i], page.Messages[j] = page.Messages[j], page.Messages[i]
		}
	}

	if len(page.Messages) > 0 {
		first := page.Messages[0].CreatedDate
		last := page.Messages[len(page.Messages)-1].CreatedDate
		if descending {
			page.PrevCursor = last
			if len(page.Messages) == limit {
				page.NextCursor = first
			}
		} else {
			page.PrevCursor = first
			if len(page.Messages) == limit {
				page.NextCursor = last
			}
		}
	}
	return page, nil
}

// GetMessage looks a message up by id, validating it belongs to the
// given space and channel.
func (s *Store) GetMessage(spaceID, channelID, messageID string) (*Message, error) {
	m, err := s.GetMessageByID(messageID)
	if err != nil {
		return nil, err
	}
	if m.SpaceID != spaceID || m.ChannelID != channelID {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *Store) GetMessageByID(messageID string) (*Message, error) {
	m := &Message{}
	if err := s.db.RunReadOnly("get message", func() error {
		return s.getMessageTx(messageID, m)
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) getMessageTx(messageID string, m *Message) error {
	return s.db.Tx.Get(m, fmt.Sprintf("SELECT %s FROM messages WHERE message_id = ?", messageColumns), messageID)
}

// GetAllSpaceMessages returns every message in every channel of a
// space, ascending by time. Used to bootstrap the search index.
func (s *Store) GetAllSpaceMessages(spaceID string) ([]*Message, error) {
	var messages []*Message
	if err := s.db.RunReadOnly("get all space messages", func() error {
		return s.db.Tx.Select(&messages, fmt.Sprintf(
			"SELECT %s FROM messages WHERE space_id = ? ORDER BY channel_id ASC, created_date ASC", messageColumns), spaceID)
	}); err != nil {
		return nil, err
	}
	return messages, nil
}

// SaveMessage writes the message row and upserts the conversation row
// in a single transaction, preserving unrelated conversation fields.
// If the message is the current user's own, the conversation's
// last-read timestamp advances with it so a self-sent message never
// shows as unread. Search indexing happens after commit and is
// best-effort.
func (s *Store) SaveMessage(m *Message, lastMessageTimestamp uint64, address, conversationType, icon, displayName, currentUserAddress string) error {
	return s.db.Run("save message", func() error {
		if err := s.upsertMessageTx(m); err != nil {
			return err
		}

		ts := m.CreatedDate
		if lastMessageTimestamp > ts {
			ts = lastMessageTimestamp
		}

		conversationID := ConversationIDFor(m.SpaceID, m.ChannelID)
		existing := &Conversation{}
		err := s.db.Tx.Get(existing, "SELECT * FROM conversations WHERE conversation_id = ?", conversationID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if errors.Is(err, sql.ErrNoRows) {
			existing = &Conversation{ConversationID: conversationID}
		}

		existing.Address = address
		existing.Type = conversationType
		existing.Icon = icon
		existing.DisplayName = displayName
		if ts > existing.Timestamp {
			existing.Timestamp = ts
		}
		if currentUserAddress != "" && m.Content.SenderID == currentUserAddress && m.CreatedDate > existing.LastReadTimestamp {
			existing.LastReadTimestamp = m.CreatedDate
		}
		if err := s.upsertConversationTx(existing); err != nil {
			return err
		}

		saved := *m
		s.db.AfterCommit(func() {
			s.notifyAdded(&saved)
		})
		return nil
	})
}

func (s *Store) upsertMessageTx(m *Message) error {
	_, err := s.db.Tx.NamedExec(`
INSERT INTO messages (message_id, space_id, channel_id, created_date, content, reactions, mentions, replies_to, is_pinned, pinned_at, pinned_by)
VALUES (:message_id, :space_id, :channel_id, :created_date, :content, :reactions, :mentions, :replies_to, :is_pinned, :pinned_at, :pinned_by)
ON CONFLICT(message_id) DO UPDATE SET
	content = :content,
	reactions = :reactions,
	mentions = :mentions,
	replies_to = :replies_to,
	is_pinned = :is_pinned,
	pinned_at = :pinned_at,
	pinned_by = :pinned_by`, m)
	return err
}

// DeleteMessage removes the message row, writes a deletion tombstone
// for channel messages (direct-conversation messages are exempt since
// no sync pass re-adds them) and cascades to any bookmark pointing at
// the message, all in one transaction. Index removal happens after
// commit.
func (s *Store) DeleteMessage(messageID string) error {
	return s.db.Run("delete message", func() error {
		m := &Message{}
		if err := s.getMessageTx(messageID, m); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if _, err := s.db.Tx.Exec("DELETE FROM messages WHERE message_id = ?", messageID); err != nil {
			return err
		}

		if m.SpaceID != m.ChannelID {
			if _, err := s.db.Tx.Exec(
				"INSERT INTO deleted_messages (message_id, space_id, channel_id, deleted_at) VALUES (?, ?, ?, ?) ON CONFLICT(message_id) DO NOTHING",
				messageID, m.SpaceID, m.ChannelID, s.clock.CurrentTimeMs()); err != nil {
				return err
			}
		}

		if _, err := s.db.Tx.Exec("DELETE FROM bookmarks WHERE message_id = ?", messageID); err != nil {
			return err
		}

		s.db.AfterCommit(func() {
			s.notifyRemoved(messageID, m.SpaceID, m.ChannelID)
		})
		return nil
	})
}

// IsMessageDeleted reports whether a deletion tombstone exists for the
// id. Callers receiving a synced message must consult this before
// re-inserting it.
func (s *Store) IsMessageDeleted(messageID string) (bool, error) {
	var count int
	if err := s.db.RunReadOnly("is message deleted", func() error {
		return s.db.Tx.Get(&count, "SELECT count(*) FROM deleted_messages WHERE message_id = ?", messageID)
	}); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetTombstones returns the tombstones for a channel.
func (s *Store) GetTombstones(spaceID, channelID string) ([]*Tombstone, error) {
	var out []*Tombstone
	if err := s.db.RunReadOnly("get tombstones", func() error {
		return s.db.Tx.Select(&out, "SELECT * FROM deleted_messages WHERE space_id = ? AND channel_id = ? ORDER BY deleted_at ASC", spaceID, channelID)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// PinMessage records the pin with its actor and time. Pinning an
// already-pinned message refreshes both.
func (s *Store) PinMessage(messageID, pinnedBy string) error {
	return s.setPin(messageID, true, pinnedBy)
}

// UnpinMessage clears the pin state entirely.
func (s *Store) UnpinMessage(messageID string) error {
	return s.setPin(messageID, false, "")
}

func (s *Store) setPin(messageID string, pinned bool, pinnedBy string) error {
	return s.db.Run("set pin", func() error {
		var pinnedAt uint64
		if pinned {
			pinnedAt = s.clock.CurrentTimeMs()
		}
		res, err := s.db.Tx.Exec("UPDATE messages SET is_pinned = ?, pinned_at = ?, pinned_by = ? WHERE message_id = ?",
			pinned, pinnedAt, pinnedBy, messageID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetPinnedMessages returns a channel's pinned messages in pin order.
func (s *Store) GetPinnedMessages(spaceID, channelID string) ([]*Message, error) {
	var out []*Message
	if err := s.db.RunReadOnly("get pinned messages", func() error {
		return s.db.Tx.Select(&out, fmt.Sprintf(
			"SELECT %s FROM messages WHERE space_id = ? AND channel_id = ? AND is_pinned = 1 ORDER BY pinned_at ASC", messageColumns),
			spaceID, channelID)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyReaction adds senderID under the emoji on the target message,
// replacing any previous tally entry for that sender.
func (s *Store) ApplyReaction(spaceID, channelID, messageID, emojiID, senderID string) error {
	return s.updateReactions(spaceID, channelID, messageID, func(reactions Reactions) Reactions {
		members := []string{}
		for _, r := range reactions {
			if r.EmojiID != emojiID {
				continue
			}
			for _, m := range r.MemberIDs {
				if m != senderID {
					members = append(members, m)
				}
			}
		}
		members = append(members, senderID)
		out := Reactions{}
		for _, r := range reactions {
			if r.EmojiID != emojiID {
				out = append(out, r)
			}
		}
		rxSpaceID := spaceID
		if spaceID == channelID {
			rxSpaceID = ""
		}
		return append(out, Reaction{
			EmojiID:   emojiID,
			EmojiName: emojiID,
			SpaceID:   rxSpaceID,
			Count:     len(members),
			MemberIDs: members,
		})
	})
}

// RemoveReaction drops senderID from the emoji tally, removing the
// tally entirely when no members remain.
func (s *Store) RemoveReaction(spaceID, channelID, messageID, emojiID, senderID string) error {
	return s.updateReactions(spaceID, channelID, messageID, func(reactions Reactions) Reactions {
		out := Reactions{}
		for _, r := range reactions {
			if r.EmojiID != emojiID {
				out = append(out, r)
				continue
			}
			members := []string{}
			for _, m := range r.MemberIDs {
				if m != senderID {
					members = append(members, m)
				}
			}
			if len(members) > 0 {
				r.MemberIDs = members
				r.Count = len(members)
				out = append(out, r)
			}
		}
		return out
	})
}

func (s *Store) updateReactions(spaceID, channelID, messageID string, f func(Reactions) Reactions) error {
	return s.db.Run("update reactions", func() error {
		m := &Message{}
		if err := s.getMessageTx(messageID, m); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if m.SpaceID != spaceID || m.ChannelID != channelID {
			return ErrNotFound
		}
		m.Reactions = f(m.Reactions)
		return s.upsertMessageTx(m)
	})
}

// CountMessages answers the sync collaborator with the number of
// messages held for a space.
func (s *Store) CountMessages(spaceID string) (int, error) {
	var count int
	if err := s.db.RunReadOnly("count messages", func() error {
		return s.db.Tx.Get(&count, "SELECT count(*) FROM messages WHERE space_id = ?", spaceID)
	}); err != nil {
		return 0, err
	}
	return count, nil
}
