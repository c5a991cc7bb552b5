package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Message content kinds. A message carries exactly one content value,
// tagged by Type, serialized as a JSON envelope at rest.
type ContentType string

const (
	ContentPost           ContentType = "post"
	ContentReaction       ContentType = "reaction"
	ContentRemoveReaction ContentType = "remove-reaction"
	ContentRemove         ContentType = "remove"
	ContentJoin           ContentType = "join"
	ContentLeave          ContentType = "leave"
	ContentKick           ContentType = "kick"
	ContentUpdateProfile  ContentType = "update-profile"
	ContentSticker        ContentType = "sticker"
	ContentEmbed          ContentType = "embed"
	ContentMute           ContentType = "mute"
	ContentPin            ContentType = "pin"
	ContentInvite         ContentType = "invite"
	ContentEdit           ContentType = "edit-message"
	ContentEvent          ContentType = "event"
)

type Content struct {
	Type     ContentType `json:"type"`
	SenderID string      `json:"senderId"`

	// post, event
	Text string `json:"text,omitempty"`

	// reaction, remove-reaction, remove, pin, edit-message
	MessageID string `json:"messageId,omitempty"`
	Reaction  string `json:"reaction,omitempty"`

	// kick, mute
	TargetUserID string `json:"targetUserId,omitempty"`
	MuteID       string `json:"muteId,omitempty"`
	Action       string `json:"action,omitempty"`

	// sticker, embed
	StickerID string `json:"stickerId,omitempty"`
	URL       string `json:"url,omitempty"`

	// invite
	InviteSpaceID string `json:"inviteSpaceId,omitempty"`
	SpaceName     string `json:"spaceName,omitempty"`

	// update-profile
	DisplayName string `json:"displayName,omitempty"`
	UserIcon    string `json:"userIcon,omitempty"`

	// edit-message
	EditedText string `json:"editedText,omitempty"`
	EditedAt   uint64 `json:"editedAt,omitempty"`
}

func (c Content) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Content) Scan(src interface{}) error {
	return scanJSON(src, c)
}

type Reaction struct {
	EmojiID   string   `json:"emojiId"`
	EmojiName string   `json:"emojiName"`
	SpaceID   string   `json:"spaceId"`
	Count     int      `json:"count"`
	MemberIDs []string `json:"memberIds"`
}

type Reactions []Reaction

func (r Reactions) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *Reactions) Scan(src interface{}) error {
	return scanJSON(src, r)
}

type Mentions struct {
	MemberIDs  []string `json:"memberIds"`
	RoleIDs    []string `json:"roleIds"`
	ChannelIDs []string `json:"channelIds"`
	Everyone   bool     `json:"everyone,omitempty"`
}

func (m Mentions) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Mentions) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// An immutable content envelope. Rows are only mutated in place for
// pin-status toggles and reaction tallies.
type Message struct {
	MessageID   string    `db:"message_id" json:"messageId"`
	SpaceID     string    `db:"space_id" json:"spaceId"`
	ChannelID   string    `db:"channel_id" json:"channelId"`
	CreatedDate uint64    `db:"created_date" json:"createdDate"`
	Content     Content   `db:"content" json:"content"`
	Reactions   Reactions `db:"reactions" json:"reactions,omitempty"`
	Mentions    Mentions  `db:"mentions" json:"mentions,omitempty"`
	RepliesTo   string    `db:"replies_to" json:"repliesTo,omitempty"`
	IsPinned    bool      `db:"is_pinned" json:"isPinned,omitempty"`
	PinnedAt    uint64    `db:"pinned_at" json:"pinnedAt,omitempty"`
	PinnedBy    string    `db:"pinned_by" json:"pinnedBy,omitempty"`
}

const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// One row per conversation. For direct conversations the id is
// "<counterpartyAddress>/<counterpartyAddress>".
type Conversation struct {
	ConversationID    string `db:"conversation_id" json:"conversationId"`
	Address           string `db:"address" json:"address"`
	Type              string `db:"type" json:"type"`
	Timestamp         uint64 `db:"timestamp" json:"timestamp"`
	LastReadTimestamp uint64 `db:"last_read_timestamp" json:"lastReadTimestamp"`
	Icon              string `db:"icon" json:"icon"`
	DisplayName       string `db:"display_name" json:"displayName"`
}

type Channel struct {
	ChannelID string `json:"channelId"`
	Name      string `json:"channelName"`
}

type ChannelGroup struct {
	Name     string    `json:"groupName"`
	Channels []Channel `json:"channels"`
}

type ChannelGroups []ChannelGroup

func (g ChannelGroups) Value() (driver.Value, error) {
	return json.Marshal(g)
}

func (g *ChannelGroups) Scan(src interface{}) error {
	return scanJSON(src, g)
}

type Role struct {
	RoleID      string   `json:"roleId"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	MemberIDs   []string `json:"memberIds"`
}

type Roles []Role

func (r Roles) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *Roles) Scan(src interface{}) error {
	return scanJSON(src, r)
}

type EmojiSet []struct {
	EmojiID string `json:"emojiId"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

func (e EmojiSet) Value() (driver.Value, error) {
	return json.Marshal(e)
}

func (e *EmojiSet) Scan(src interface{}) error {
	return scanJSON(src, e)
}

// A space aggregates named groups of channels, roles, emoji and sticker
// sets, and privacy flags. DefaultChannelID must always resolve to an
// existing channel.
type Space struct {
	SpaceID          string        `db:"space_id" json:"spaceId"`
	Name             string        `db:"name" json:"spaceName"`
	Icon             string        `db:"icon" json:"icon"`
	DefaultChannelID string        `db:"default_channel_id" json:"defaultChannelId"`
	IsRepudiable     bool          `db:"is_repudiable" json:"isRepudiable"`
	IsPublic         bool          `db:"is_public" json:"isPublic"`
	Groups           ChannelGroups `db:"groups" json:"groups"`
	Roles            Roles         `db:"roles" json:"roles,omitempty"`
	Emojis           EmojiSet      `db:"emojis" json:"emojis,omitempty"`
	Stickers         EmojiSet      `db:"stickers" json:"stickers,omitempty"`
}

// ChannelIDs returns every channel id in the space, in group order.
func (s *Space) ChannelIDs() []string {
	ids := []string{}
	for _, g := range s.Groups {
		for _, c := range g.Channels {
			ids = append(ids, c.ChannelID)
		}
	}
	return ids
}

// HasChannel reports whether the given channel id exists in any group.
func (s *Space) HasChannel(channelID string) bool {
	for _, g := range s.Groups {
		for _, c := range g.Channels {
			if c.ChannelID == channelID {
				return true
			}
		}
	}
	return false
}

type SpaceMember struct {
	SpaceID      string `db:"space_id" json:"spaceId"`
	UserAddress  string `db:"user_address" json:"user_address"`
	InboxAddress string `db:"inbox_address" json:"inbox_address"`
	DisplayName  string `db:"display_name" json:"display_name"`
	UserIcon     string `db:"user_icon" json:"user_icon"`
}

type SpaceKey struct {
	SpaceID    string `db:"space_id" json:"spaceId"`
	KeyID      string `db:"key_id" json:"keyId"`
	Address    string `db:"address" json:"address,omitempty"`
	PublicKey  string `db:"public_key" json:"publicKey"`
	PrivateKey string `db:"private_key" json:"privateKey"`
}

// Opaque ratchet session material for a (conversation, inbox) pair.
// The state blob comes from the secure-channel SDK and is never
// interpreted here beyond the diagnostic scan.
type EncryptionState struct {
	ConversationID string `db:"conversation_id" json:"conversationId"`
	InboxID        string `db:"inbox_id" json:"inboxId"`
	State          []byte `db:"state" json:"state"`
	Timestamp      uint64 `db:"timestamp" json:"timestamp"`
	SentAccept     bool   `db:"sent_accept" json:"sentAccept"`
}

type UserConfig struct {
	Address string          `db:"address" json:"address"`
	Config  json.RawMessage `db:"config" json:"config"`
}

type BookmarkPreview struct {
	SenderAddress string `json:"senderAddress"`
	SenderName    string `json:"senderName"`
	TextSnippet   string `json:"textSnippet"`
	MessageDate   uint64 `json:"messageDate"`
	SourceName    string `json:"sourceName"`
	ContentType   string `json:"contentType"`
	ImageURL      string `json:"imageUrl,omitempty"`
	StickerID     string `json:"stickerId,omitempty"`
}

func (p BookmarkPreview) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *BookmarkPreview) Scan(src interface{}) error {
	return scanJSON(src, p)
}

type Bookmark struct {
	BookmarkID     string          `db:"bookmark_id" json:"bookmarkId"`
	MessageID      string          `db:"message_id" json:"messageId"`
	SpaceID        string          `db:"space_id" json:"spaceId,omitempty"`
	ChannelID      string          `db:"channel_id" json:"channelId,omitempty"`
	ConversationID string          `db:"conversation_id" json:"conversationId,omitempty"`
	SourceType     string          `db:"source_type" json:"sourceType"`
	CreatedAt      uint64          `db:"created_at" json:"createdAt"`
	CachedPreview  BookmarkPreview `db:"cached_preview" json:"cachedPreview"`
}

// ExpiresAt of zero means the mute is permanent. LastMuteID dedups
// replay of the same mute action arriving twice via sync.
type MutedUser struct {
	SpaceID      string `db:"space_id" json:"spaceId"`
	TargetUserID string `db:"target_user_id" json:"targetUserId"`
	ExpiresAt    uint64 `db:"expires_at" json:"expiresAt,omitempty"`
	LastMuteID   string `db:"last_mute_id" json:"lastMuteId"`
	MutedAt      uint64 `db:"muted_at" json:"mutedAt"`
}

// A persisted marker recording that a channel message was deliberately
// deleted, preventing its reintroduction by a later sync pass.
type Tombstone struct {
	MessageID string `db:"message_id" json:"messageId"`
	SpaceID   string `db:"space_id" json:"spaceId"`
	ChannelID string `db:"channel_id" json:"channelId"`
	DeletedAt uint64 `db:"deleted_at" json:"deletedAt"`
}

type ConversationUser struct {
	Address        string `db:"address" json:"address"`
	ConversationID string `db:"conversation_id" json:"conversationId"`
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("store: cannot scan %T into %T", src, dst)
	}
}
