package quorum

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quorum-im/go-quorum/queue"
	"github.com/quorum-im/go-quorum/store"
	"github.com/quorum-im/go-quorum/transport/websocket"
)

// registerHandlers binds every task type to its network effect. Each
// handler is idempotent under retry: the durable local mutation
// happened at enqueue time, so a handler only encrypts and ships the
// frame, and shipping the same frame twice is absorbed by receivers
// through message ids and mute ids.
func (q *Quorum) registerHandlers() {
	q.queue.RegisterHandler(queue.TaskSendMessage, q.handleSendMessage)
	q.queue.RegisterHandler(queue.TaskSendInvite, q.handleSendInvite)
	q.queue.RegisterHandler(queue.TaskSaveUserConfig, q.handleSaveUserConfig)
	q.queue.RegisterHandler(queue.TaskUpdateSpace, q.handleUpdateSpace)
	q.queue.RegisterHandler(queue.TaskKickUser, q.handleKickUser)
	q.queue.RegisterHandler(queue.TaskMuteUser, q.handleMuteUser)
	q.queue.RegisterHandler(queue.TaskUnmuteUser, q.handleUnmuteUser)
	q.queue.RegisterHandler(queue.TaskReaction, q.handleReaction)
	q.queue.RegisterHandler(queue.TaskPinMessage, q.handlePinMessage)
	q.queue.RegisterHandler(queue.TaskUnpinMessage, q.handleUnpinMessage)
	q.queue.RegisterHandler(queue.TaskEditMessage, q.handleEditMessage)
	q.queue.RegisterHandler(queue.TaskDeleteMessage, q.handleDeleteMessage)
}

// broadcast encrypts a message for a conversation and hands the frame
// to the mailbox. The mailbox buffers across disconnects, so this
// never fails for link reasons, only for encryption ones.
func (q *Quorum) broadcast(ctx context.Context, conversationID string, m *store.Message) error {
	plaintext, err := json.Marshal(m)
	if err != nil {
		return &queue.Permanent{Err: err}
	}
	inboxAddress, ciphertext, err := q.encryptor.Encrypt(ctx, conversationID, plaintext)
	if err != nil {
		return fmt.Errorf("encrypting for %s: %w", conversationID, err)
	}
	frame, err := websocket.MessageFrame(inboxAddress, ciphertext)
	if err != nil {
		return &queue.Permanent{Err: err}
	}
	q.mailbox.Enqueue(frame)
	return nil
}

func (q *Quorum) handleSendMessage(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.SendMessagePayload)
	return q.broadcast(ctx, store.ConversationIDFor(p.Message.SpaceID, p.Message.ChannelID), p.Message)
}

// Invites travel over the invitee's direct conversation, not the
// space itself: the invitee has no space keys yet.
func (q *Quorum) handleSendInvite(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.SendInvitePayload)
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.InviteeAddress,
		ChannelID:   p.InviteeAddress,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:          store.ContentInvite,
			SenderID:      p.InvitedBy,
			InviteSpaceID: p.SpaceID,
			SpaceName:     p.SpaceName,
		},
	}
	return q.broadcast(ctx, p.InviteeAddress, m)
}

func (q *Quorum) handleSaveUserConfig(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.SaveUserConfigPayload)
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.Address,
		ChannelID:   p.Address,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:     store.ContentUpdateProfile,
			SenderID: q.address,
		},
	}
	return q.broadcast(ctx, p.Address, m)
}

func (q *Quorum) handleUpdateSpace(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.UpdateSpacePayload)
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.Space.SpaceID,
		ChannelID:   p.Space.DefaultChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:     store.ContentEvent,
			SenderID: q.address,
			Text:     "space updated",
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(m.SpaceID, m.ChannelID), m)
}

func (q *Quorum) handleKickUser(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.KickUserPayload)
	sp, err := q.store.GetSpace(p.SpaceID)
	if err != nil {
		return &queue.Permanent{Err: err}
	}
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.SpaceID,
		ChannelID:   sp.DefaultChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:         store.ContentKick,
			SenderID:     q.address,
			TargetUserID: p.TargetUserID,
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(m.SpaceID, m.ChannelID), m)
}

func (q *Quorum) handleMuteUser(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.MuteUserPayload)
	sp, err := q.store.GetSpace(p.SpaceID)
	if err != nil {
		return &queue.Permanent{Err: err}
	}
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.SpaceID,
		ChannelID:   sp.DefaultChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:         store.ContentMute,
			SenderID:     q.address,
			TargetUserID: p.TargetUserID,
			MuteID:       p.MuteID,
			Action:       "mute",
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(m.SpaceID, m.ChannelID), m)
}

func (q *Quorum) handleUnmuteUser(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.UnmuteUserPayload)
	sp, err := q.store.GetSpace(p.SpaceID)
	if err != nil {
		return &queue.Permanent{Err: err}
	}
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.SpaceID,
		ChannelID:   sp.DefaultChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:         store.ContentMute,
			SenderID:     q.address,
			TargetUserID: p.TargetUserID,
			MuteID:       p.MuteID,
			Action:       "unmute",
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(m.SpaceID, m.ChannelID), m)
}

func (q *Quorum) handleReaction(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.ReactionPayload)
	contentType := store.ContentReaction
	if p.Remove {
		contentType = store.ContentRemoveReaction
	}
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.SpaceID,
		ChannelID:   p.ChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:      contentType,
			SenderID:  p.SenderID,
			MessageID: p.MessageID,
			Reaction:  p.EmojiID,
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(p.SpaceID, p.ChannelID), m)
}

func (q *Quorum) handlePinMessage(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.PinMessagePayload)
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.SpaceID,
		ChannelID:   p.ChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:      store.ContentPin,
			SenderID:  p.PinnedBy,
			MessageID: p.MessageID,
			Action:    "pin",
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(p.SpaceID, p.ChannelID), m)
}

func (q *Quorum) handleUnpinMessage(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.UnpinMessagePayload)
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.SpaceID,
		ChannelID:   p.ChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:      store.ContentPin,
			SenderID:  q.address,
			MessageID: p.MessageID,
			Action:    "unpin",
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(p.SpaceID, p.ChannelID), m)
}

func (q *Quorum) handleEditMessage(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.EditMessagePayload)
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.SpaceID,
		ChannelID:   p.ChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:       store.ContentEdit,
			SenderID:   q.address,
			MessageID:  p.MessageID,
			EditedText: p.Text,
			EditedAt:   p.EditedAt,
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(p.SpaceID, p.ChannelID), m)
}

func (q *Quorum) handleDeleteMessage(ctx context.Context, _ *store.QueueTask, payload queue.Payload) error {
	p := payload.(*queue.DeleteMessagePayload)
	m := &store.Message{
		MessageID:   NewMessageID(),
		SpaceID:     p.SpaceID,
		ChannelID:   p.ChannelID,
		CreatedDate: q.clock.CurrentTimeMs(),
		Content: store.Content{
			Type:      store.ContentRemove,
			SenderID:  q.address,
			MessageID: p.MessageID,
		},
	}
	return q.broadcast(ctx, store.ConversationIDFor(p.SpaceID, p.ChannelID), m)
}
