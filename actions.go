package quorum

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/quorum-im/go-quorum/queue"
	"github.com/quorum-im/go-quorum/store"
)

// User-initiated mutations. Each method applies the durable local
// effect first, then enqueues the network effect; the queue carries
// it whenever the online gate allows. The dedup key ties retries of
// the same logical action together.

func (q *Quorum) SendMessage(m *store.Message, conversationType, address, icon, displayName string) error {
	if m.MessageID == "" {
		m.MessageID = NewMessageID()
	}
	if m.CreatedDate == 0 {
		m.CreatedDate = q.clock.CurrentTimeMs()
	}
	if err := q.store.SaveMessage(m, m.CreatedDate, address, conversationType, icon, displayName, q.address); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.SendMessagePayload{
		Message:              m,
		ConversationType:     conversationType,
		Address:              address,
		LastMessageTimestamp: m.CreatedDate,
	}, "send-message:"+m.MessageID)
	return err
}

func (q *Quorum) EditMessage(spaceID, channelID, messageID, text string) error {
	m, err := q.store.GetMessage(spaceID, channelID, messageID)
	if err != nil {
		return err
	}
	editedAt := q.clock.CurrentTimeMs()
	m.Content.Text = text
	m.Content.EditedText = text
	m.Content.EditedAt = editedAt
	if err := q.store.SaveMessage(m, m.CreatedDate, store.ConversationIDFor(spaceID, channelID), conversationTypeFor(spaceID, channelID), "", "", q.address); err != nil {
		return err
	}
	_, _, err = q.queue.Enqueue(&queue.EditMessagePayload{
		SpaceID:   spaceID,
		ChannelID: channelID,
		MessageID: messageID,
		Text:      text,
		EditedAt:  editedAt,
	}, "edit-message:"+messageID)
	return err
}

func (q *Quorum) DeleteMessage(spaceID, channelID, messageID string) error {
	if err := q.store.DeleteMessage(messageID); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.DeleteMessagePayload{
		SpaceID:   spaceID,
		ChannelID: channelID,
		MessageID: messageID,
	}, "delete-message:"+messageID)
	return err
}

func (q *Quorum) React(spaceID, channelID, messageID, emojiID string) error {
	if err := q.store.ApplyReaction(spaceID, channelID, messageID, emojiID, q.address); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.ReactionPayload{
		SpaceID:   spaceID,
		ChannelID: channelID,
		MessageID: messageID,
		EmojiID:   emojiID,
		SenderID:  q.address,
	}, fmt.Sprintf("reaction:%s:%s:%s", messageID, emojiID, q.address))
	return err
}

func (q *Quorum) Unreact(spaceID, channelID, messageID, emojiID string) error {
	if err := q.store.RemoveReaction(spaceID, channelID, messageID, emojiID, q.address); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.ReactionPayload{
		SpaceID:   spaceID,
		ChannelID: channelID,
		MessageID: messageID,
		EmojiID:   emojiID,
		SenderID:  q.address,
		Remove:    true,
	}, fmt.Sprintf("reaction:%s:%s:%s", messageID, emojiID, q.address))
	return err
}

func (q *Quorum) PinMessage(spaceID, channelID, messageID string) error {
	if err := q.store.PinMessage(messageID, q.address); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.PinMessagePayload{
		SpaceID:   spaceID,
		ChannelID: channelID,
		MessageID: messageID,
		PinnedBy:  q.address,
	}, "pin:"+messageID)
	return err
}

func (q *Quorum) UnpinMessage(spaceID, channelID, messageID string) error {
	if err := q.store.UnpinMessage(messageID); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.UnpinMessagePayload{
		SpaceID:   spaceID,
		ChannelID: channelID,
		MessageID: messageID,
	}, "pin:"+messageID)
	return err
}

// MuteUser writes the mute locally and broadcasts it. The mute id
// makes the broadcast idempotent at every receiver.
func (q *Quorum) MuteUser(spaceID, targetUserID string, expiresAt uint64) error {
	muteID := uuid.NewString()
	if err := q.store.SaveMutedUser(&store.MutedUser{
		SpaceID:      spaceID,
		TargetUserID: targetUserID,
		ExpiresAt:    expiresAt,
		LastMuteID:   muteID,
		MutedAt:      q.clock.CurrentTimeMs(),
	}); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.MuteUserPayload{
		SpaceID:      spaceID,
		TargetUserID: targetUserID,
		MuteID:       muteID,
		ExpiresAt:    expiresAt,
	}, fmt.Sprintf("mute:%s:%s", spaceID, targetUserID))
	return err
}

func (q *Quorum) UnmuteUser(spaceID, targetUserID string) error {
	if err := q.store.DeleteMutedUser(spaceID, targetUserID); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.UnmuteUserPayload{
		SpaceID:      spaceID,
		TargetUserID: targetUserID,
		MuteID:       uuid.NewString(),
	}, fmt.Sprintf("mute:%s:%s", spaceID, targetUserID))
	return err
}

// InviteUser queues an invite to join a space. Re-inviting the same
// address before the first invite ships coalesces into one task.
func (q *Quorum) InviteUser(spaceID, inviteeAddress string) error {
	sp, err := q.store.GetSpace(spaceID)
	if err != nil {
		return err
	}
	_, _, err = q.queue.Enqueue(&queue.SendInvitePayload{
		SpaceID:        spaceID,
		InviteeAddress: inviteeAddress,
		SpaceName:      sp.Name,
		InvitedBy:      q.address,
	}, fmt.Sprintf("send-invite:%s:%s", spaceID, inviteeAddress))
	return err
}

func (q *Quorum) KickUser(spaceID, targetUserID string) error {
	if err := q.store.DeleteSpaceMember(spaceID, targetUserID); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.KickUserPayload{
		SpaceID:      spaceID,
		TargetUserID: targetUserID,
	}, fmt.Sprintf("kick:%s:%s", spaceID, targetUserID))
	return err
}

func (q *Quorum) UpdateSpace(sp *store.Space) error {
	if err := q.store.SaveSpace(sp); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.UpdateSpacePayload{Space: sp}, "update-space:"+sp.SpaceID)
	return err
}

func (q *Quorum) SaveUserConfig(cfg json.RawMessage) error {
	if err := q.store.SaveUserConfig(&store.UserConfig{Address: q.address, Config: cfg}); err != nil {
		return err
	}
	_, _, err := q.queue.Enqueue(&queue.SaveUserConfigPayload{
		Address: q.address,
		Config:  cfg,
	}, "save-user-config:"+q.address)
	return err
}

func conversationTypeFor(spaceID, channelID string) string {
	if spaceID == channelID {
		return store.ConversationDirect
	}
	return store.ConversationGroup
}
