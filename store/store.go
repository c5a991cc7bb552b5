// This package defines the durable store for the messaging client: an
// indexed, transactional set of per-entity tables over the encrypted
// database, with cursor-based pagination, tombstone-based delete
// semantics and the persistence primitives for the action queue.
package store

import (
	"database/sql"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	db "github.com/quorum-im/go-quorum/internal/db"
	"github.com/quorum-im/go-quorum/migration"
	"go.uber.org/zap"
)

// MessageObserver is notified after a committed message write or
// delete. Observers run outside the transaction; failures are theirs
// to log and never propagate back into the store.
type MessageObserver interface {
	MessageAdded(m *Message)
	MessageRemoved(messageID, spaceID, channelID string)
}

type Store struct {
	config *config.Config
	db     *db.Database
	clock  clock.Clock
	log    *zap.SugaredLogger

	observers []MessageObserver
}

func New(c *config.Config, d *db.Database, cl clock.Clock) (*Store, error) {
	log := c.Logger("store")

	if err := d.Migrate("_store", []*migration.Migration{
		{
			Name: "Create initial tables",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
CREATE TABLE messages (
	message_id TEXT PRIMARY KEY,
	space_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	created_date INTEGER NOT NULL,
	content TEXT NOT NULL,
	reactions TEXT NOT NULL DEFAULT '[]',
	mentions TEXT NOT NULL DEFAULT '{}',
	replies_to TEXT NOT NULL DEFAULT '',
	is_pinned INTEGER NOT NULL DEFAULT 0,
	pinned_at INTEGER NOT NULL DEFAULT 0,
	pinned_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX messages_by_conversation_time ON messages (space_id, channel_id, created_date);
CREATE INDEX messages_by_channel_pinned ON messages (space_id, channel_id, is_pinned, pinned_at);

CREATE TABLE conversations (
	conversation_id TEXT PRIMARY KEY,
	address TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	timestamp INTEGER NOT NULL DEFAULT 0,
	last_read_timestamp INTEGER NOT NULL DEFAULT 0,
	icon TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT ''
);

CREATE INDEX conversations_by_type_time ON conversations (type, timestamp);

CREATE TABLE encryption_states (
	conversation_id TEXT NOT NULL,
	inbox_id TEXT NOT NULL,
	state BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	sent_accept INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (conversation_id, inbox_id)
);

CREATE TABLE latest_states (
	conversation_id TEXT PRIMARY KEY,
	inbox_id TEXT NOT NULL,
	state BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	sent_accept INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE conversation_users (
	address TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL
);

CREATE INDEX conversation_users_by_conversation ON conversation_users (conversation_id);

CREATE TABLE spaces (
	space_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	icon TEXT NOT NULL DEFAULT '',
	default_channel_id TEXT NOT NULL DEFAULT '',
	is_repudiable INTEGER NOT NULL DEFAULT 0,
	is_public INTEGER NOT NULL DEFAULT 0,
	groups TEXT NOT NULL DEFAULT '[]',
	roles TEXT NOT NULL DEFAULT '[]',
	emojis TEXT NOT NULL DEFAULT '[]',
	stickers TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE space_keys (
	space_id TEXT NOT NULL,
	key_id TEXT NOT NULL,
	address TEXT NOT NULL DEFAULT '',
	public_key TEXT NOT NULL DEFAULT '',
	private_key TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (space_id, key_id)
);

CREATE TABLE space_members (
	space_id TEXT NOT NULL,
	user_address TEXT NOT NULL,
	inbox_address TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	user_icon TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (space_id, user_address)
);

CREATE INDEX space_members_by_address ON space_members (user_address);

CREATE TABLE user_config (
	address TEXT PRIMARY KEY,
	config TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE bookmarks (
	bookmark_id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	space_id TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	cached_preview TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX bookmarks_by_message ON bookmarks (message_id);
CREATE INDEX bookmarks_by_created ON bookmarks (created_at);

CREATE TABLE muted_users (
	space_id TEXT NOT NULL,
	target_user_id TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	last_mute_id TEXT NOT NULL DEFAULT '',
	muted_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (space_id, target_user_id)
);

CREATE INDEX muted_users_by_space ON muted_users (space_id);
CREATE INDEX muted_users_by_mute_id ON muted_users (last_mute_id);

CREATE TABLE action_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	key TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	next_retry_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0,
	processing_started_at INTEGER NOT NULL DEFAULT 0,
	processed_at INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX action_queue_status ON action_queue (status);
CREATE INDEX action_queue_task_type ON action_queue (task_type);
CREATE INDEX action_queue_key ON action_queue (key);
CREATE INDEX action_queue_next_retry_at ON action_queue (next_retry_at);

CREATE TABLE deleted_messages (
	message_id TEXT PRIMARY KEY,
	space_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	deleted_at INTEGER NOT NULL
);

CREATE INDEX deleted_messages_by_space_channel ON deleted_messages (space_id, channel_id);
CREATE INDEX deleted_messages_by_deleted_at ON deleted_messages (deleted_at);
				`)
				return err
			},
		},
	}); err != nil {
		return nil, err
	}

	return &Store{
		config: c,
		db:     d,
		clock:  cl,
		log:    log,
	}, nil
}

// AddObserver registers a committed-write observer. Called once per
// observer during wiring, before any store traffic.
func (s *Store) AddObserver(o MessageObserver) {
	s.observers = append(s.observers, o)
}

func (s *Store) notifyAdded(m *Message) {
	for _, o := range s.observers {
		o.MessageAdded(m)
	}
}

func (s *Store) notifyRemoved(messageID, spaceID, channelID string) {
	for _, o := range s.observers {
		o.MessageRemoved(messageID, spaceID, channelID)
	}
}
