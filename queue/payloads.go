package queue

import (
	"encoding/json"
	"fmt"

	"github.com/quorum-im/go-quorum/store"
)

// Task types. Every enqueueable user action has exactly one type and
// one payload variant; dispatch is exhaustive over this set.
type TaskType string

const (
	TaskSendMessage    TaskType = "send-message"
	TaskSendInvite     TaskType = "send-invite"
	TaskSaveUserConfig TaskType = "save-user-config"
	TaskUpdateSpace    TaskType = "update-space"
	TaskKickUser       TaskType = "kick-user"
	TaskMuteUser       TaskType = "mute-user"
	TaskUnmuteUser     TaskType = "unmute-user"
	TaskReaction       TaskType = "reaction"
	TaskPinMessage     TaskType = "pin-message"
	TaskUnpinMessage   TaskType = "unpin-message"
	TaskEditMessage    TaskType = "edit-message"
	TaskDeleteMessage  TaskType = "delete-message"
)

// Payload is the closed union of task payloads. Each variant is a
// struct tied to one TaskType through the unexported method, so an
// Enqueue call cannot mismatch type and payload.
type Payload interface {
	TaskType() TaskType
}

type SendMessagePayload struct {
	Message              *store.Message `json:"message"`
	ConversationType     string         `json:"conversationType"`
	Address              string         `json:"address"`
	LastMessageTimestamp uint64         `json:"lastMessageTimestamp"`
}

func (SendMessagePayload) TaskType() TaskType { return TaskSendMessage }

type SendInvitePayload struct {
	SpaceID        string `json:"spaceId"`
	InviteeAddress string `json:"inviteeAddress"`
	SpaceName      string `json:"spaceName"`
	InvitedBy      string `json:"invitedBy"`
}

func (SendInvitePayload) TaskType() TaskType { return TaskSendInvite }

type SaveUserConfigPayload struct {
	Address string          `json:"address"`
	Config  json.RawMessage `json:"config"`
}

func (SaveUserConfigPayload) TaskType() TaskType { return TaskSaveUserConfig }

type UpdateSpacePayload struct {
	Space *store.Space `json:"space"`
}

func (UpdateSpacePayload) TaskType() TaskType { return TaskUpdateSpace }

type KickUserPayload struct {
	SpaceID      string `json:"spaceId"`
	TargetUserID string `json:"targetUserId"`
}

func (KickUserPayload) TaskType() TaskType { return TaskKickUser }

type MuteUserPayload struct {
	SpaceID      string `json:"spaceId"`
	TargetUserID string `json:"targetUserId"`
	MuteID       string `json:"muteId"`
	ExpiresAt    uint64 `json:"expiresAt"`
}

func (MuteUserPayload) TaskType() TaskType { return TaskMuteUser }

type UnmuteUserPayload struct {
	SpaceID      string `json:"spaceId"`
	TargetUserID string `json:"targetUserId"`
	MuteID       string `json:"muteId"`
}

func (UnmuteUserPayload) TaskType() TaskType { return TaskUnmuteUser }

type ReactionPayload struct {
	SpaceID   string `json:"spaceId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	EmojiID   string `json:"emojiId"`
	SenderID  string `json:"senderId"`
	Remove    bool   `json:"remove,omitempty"`
}

func (ReactionPayload) TaskType() TaskType { return TaskReaction }

type PinMessagePayload struct {
	SpaceID   string `json:"spaceId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	PinnedBy  string `json:"pinnedBy"`
}

func (PinMessagePayload) TaskType() TaskType { return TaskPinMessage }

type UnpinMessagePayload struct {
	SpaceID   string `json:"spaceId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

func (UnpinMessagePayload) TaskType() TaskType { return TaskUnpinMessage }

type EditMessagePayload struct {
	SpaceID   string `json:"spaceId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	EditedAt  uint64 `json:"editedAt"`
}

func (EditMessagePayload) TaskType() TaskType { return TaskEditMessage }

type DeleteMessagePayload struct {
	SpaceID   string `json:"spaceId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

func (DeleteMessagePayload) TaskType() TaskType { return TaskDeleteMessage }

func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload reverses EncodePayload given the task type recorded on
// the row. An unknown type is a permanent failure; retrying cannot fix
// it.
func DecodePayload(taskType string, data []byte) (Payload, error) {
	var p Payload
	switch TaskType(taskType) {
	case TaskSendMessage:
		p = &SendMessagePayload{}
	case TaskSendInvite:
		p = &SendInvitePayload{}
	case TaskSaveUserConfig:
		p = &SaveUserConfigPayload{}
	case TaskUpdateSpace:
		p = &UpdateSpacePayload{}
	case TaskKickUser:
		p = &KickUserPayload{}
	case TaskMuteUser:
		p = &MuteUserPayload{}
	case TaskUnmuteUser:
		p = &UnmuteUserPayload{}
	case TaskReaction:
		p = &ReactionPayload{}
	case TaskPinMessage:
		p = &PinMessagePayload{}
	case TaskUnpinMessage:
		p = &UnpinMessagePayload{}
	case TaskEditMessage:
		p = &EditMessagePayload{}
	case TaskDeleteMessage:
		p = &DeleteMessagePayload{}
	default:
		return nil, fmt.Errorf("unknown task type %s", taskType)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", taskType, err)
	}
	return p, nil
}
