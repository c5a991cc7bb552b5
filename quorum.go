// This package provides a high-level interface to the quorum client
// core: an encrypted durable store, per-scope message search, a
// durable action queue drained while online, and a buffering mailbox
// over a reconnecting websocket transport.
package quorum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/quorum-im/go-quorum/backup"
	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	"github.com/quorum-im/go-quorum/internal/db"
	"github.com/quorum-im/go-quorum/mailbox"
	"github.com/quorum-im/go-quorum/queue"
	"github.com/quorum-im/go-quorum/search"
	"github.com/quorum-im/go-quorum/store"
	"github.com/quorum-im/go-quorum/transport/websocket"
	"go.uber.org/zap"
)

const (
	// Constants for application state.
	StateNew = iota
	StateInitialized
	StateRunning
	StateClosing
	StateClosed
)

// An event indicating a change in the state of the client.
type AppState struct {
	State int
}

// An event indicating new inbound messages were processed.
type MessagesReceivedUpdate struct {
	Count int
}

// An event indicating a change in connectivity or queue depth.
type ConnectivityUpdate struct {
	Online  bool
	Pending int
	Failed  int
}

// Encryptor is the secure-channel collaborator. Ratchet state is
// opaque to this package; it is stored and fetched through the store's
// encryption-state tables by the implementation.
type Encryptor interface {
	Encrypt(ctx context.Context, conversationID string, plaintext []byte) (inboxAddress string, ciphertext []byte, err error)
	Decrypt(ctx context.Context, inboxAddress string, ciphertext []byte) (conversationID string, plaintext []byte, err error)
}

// Syncer is the sync collaborator. RequestSync asks a space's host for
// missing history; InformSyncData is answered by the client with its
// own counts.
type Syncer interface {
	RequestSync(spaceID string) error
	InformSyncData(spaceID, inboxAddress string, messageCount, memberCount int, summary string) error
}

type Quorum struct {
	DB     *db.Database
	config *config.Config
	log    *zap.SugaredLogger
	state  int
	clock  clock.Clock

	store     *store.Store
	search    *search.Manager
	queue     *queue.Manager
	mailbox   *mailbox.Manager
	transport *websocket.Client
	backup    *backup.Manager

	encryptor Encryptor
	syncer    Syncer

	address        string
	inboxAddresses []string

	updates    chan interface{}
	finished   sync.WaitGroup
	cancelFunc context.CancelFunc
}

// Create a quorum instance. The collaborators are wired later, before
// Open, in a single dependency-ordered pass.
func NewQuorum(c *config.Config, address string, serverURL string) (*Quorum, error) {
	log := c.Logger("")
	absRootPath, err := filepath.Abs(c.RootDir)
	if err != nil {
		return nil, err
	}
	c.RootDir = absRootPath
	log.Debugf("making quorum, using root path of %s", c.RootDir)

	if err := os.MkdirAll(c.RootDir, 0o700); err != nil {
		return nil, err
	}
	cl := clock.NewSystemClock()
	database, err := db.NewDatabase(c, cl, path.Join(c.RootDir, "data"))
	if err != nil {
		return nil, err
	}

	state := StateNew
	if database.Initialized() {
		state = StateInitialized
	}

	q := &Quorum{
		DB:        database,
		config:    c,
		log:       log,
		state:     state,
		clock:     cl,
		address:   address,
		transport: websocket.NewClient(c, serverURL),
		updates:   make(chan interface{}, 100),
	}
	return q, nil
}

// Makes a key from a password.
func (q *Quorum) NewKey(password string) ([]byte, error) {
	return newKey(password, q.config.RootDir, "salt")
}

// Gets various updates which must be dealt with. This will produce
// *AppState, *ConnectivityUpdate, *MessagesReceivedUpdate and
// *queue.StateUpdate values.
func (q *Quorum) Updates() chan interface{} {
	return q.updates
}

// SetEncryptor and SetSyncer wire the external collaborators. Both
// must be set before Open.
func (q *Quorum) SetEncryptor(e Encryptor) {
	q.encryptor = e
}

func (q *Quorum) SetSyncer(s Syncer) {
	q.syncer = s
}

// SetInboxAddresses records the addresses resubscribed on every
// transport open.
func (q *Quorum) SetInboxAddresses(addresses []string) {
	q.inboxAddresses = addresses
}

// Returns true if quorum is in NEW state.
func (q *Quorum) New() bool {
	return q.state == StateNew
}

// Returns true if quorum is in INITIALIZED state.
func (q *Quorum) Initialized() bool {
	return q.state == StateInitialized
}

// Returns true if quorum is in RUNNING state.
func (q *Quorum) Running() bool {
	return q.state == StateRunning
}

// Initialize quorum with a given key.
func (q *Quorum) Initialize(key []byte) error {
	if q.state != StateNew {
		return errors.New("cannot initialize unless in state new")
	}
	if err := q.DB.Initialize(key); err != nil {
		return err
	}
	q.setState(StateInitialized)
	return q.Open(key)
}

// Open an existing quorum with a given key.
func (q *Quorum) Open(key []byte) error {
	if q.state != StateInitialized {
		return errors.New("cannot open unless in state initialized")
	}
	if q.encryptor == nil || q.syncer == nil {
		return errors.New("encryptor and syncer must be wired before open")
	}

	if err := q.DB.Open(key); err != nil {
		return err
	}

	st, err := store.New(q.config, q.DB, q.clock)
	if err != nil {
		return err
	}
	q.store = st
	q.search = search.NewManager(q.config, st)
	q.queue = queue.NewManager(q.config, st, q.clock)
	q.mailbox = mailbox.NewManager(q.config, q.clock, q.transport)
	q.backup = backup.NewManager(q.config, st, q.clock)

	q.registerHandlers()
	q.wireMailbox()
	q.wireTransport()

	if err := q.search.Initialize(); err != nil {
		return err
	}
	if err := q.queue.Start(); err != nil {
		return err
	}
	if err := q.mailbox.Start(); err != nil {
		return err
	}
	if err := q.transport.Start(); err != nil {
		return err
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	q.cancelFunc = cancelFunc
	q.startUpdatePassing(ctx)
	q.setState(StateRunning)
	return nil
}

func (q *Quorum) wireMailbox() {
	q.mailbox.SetHandler(func(ctx context.Context, inboxAddress string, envelope []byte) error {
		return q.processEnvelope(ctx, inboxAddress, envelope)
	})
	q.mailbox.SetResubscribe(func(ctx context.Context) error {
		frame, err := websocket.SubscribeFrame(q.inboxAddresses)
		if err != nil {
			return err
		}
		return q.transport.Send(ctx, frame)
	})
	q.mailbox.SetNotifier(func(processed int) {
		select {
		case q.updates <- &MessagesReceivedUpdate{Count: processed}:
		default:
		}
	})
	q.mailbox.SetStatusReporter(func(connected bool) {
		q.queue.SetTransportConnected(connected)
	})
}

func (q *Quorum) wireTransport() {
	q.transport.SetHandlers(
		func(inboxAddress string, payload []byte) {
			q.mailbox.Receive(inboxAddress, payload)
		},
		func(ctx context.Context) {
			q.mailbox.TransportOpened(ctx)
		},
		func() {
			q.mailbox.TransportClosed()
		},
	)
}

// SetHostOnline feeds the host-reported network signal into the
// queue's online gate.
func (q *Quorum) SetHostOnline(online bool) {
	if q.queue != nil {
		q.queue.SetHostOnline(online)
	}
}

func (q *Quorum) startUpdatePassing(ctx context.Context) {
	q.finished.Add(1)
	go func() {
		defer q.finished.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-q.queue.Updates():
				if su, ok := update.(*queue.StateUpdate); ok {
					update = &ConnectivityUpdate{Online: su.Online, Pending: su.Pending, Failed: su.Failed}
				}
				select {
				case q.updates <- update:
				default:
				}
			}
		}
	}()
}

// Gracefully stop a running quorum instance.
func (q *Quorum) Shutdown() error {
	if q.state != StateRunning {
		return nil
	}
	q.setState(StateClosing)
	defer runtime.GC()

	errs := make([]string, 0)
	q.cancelFunc()
	q.finished.Wait()

	if err := q.transport.Shutdown(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := q.mailbox.Shutdown(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := q.queue.Shutdown(); err != nil {
		errs = append(errs, err.Error())
	}
	q.search.Shutdown()
	if err := q.DB.Shutdown(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) != 0 {
		return fmt.Errorf("error during shutdown: %s", strings.Join(errs, ", "))
	}

	q.cancelFunc = nil
	q.store = nil
	q.search = nil
	q.queue = nil
	q.mailbox = nil
	q.backup = nil

	q.setState(StateInitialized)
	close(q.updates)
	q.updates = make(chan interface{}, 100)
	return nil
}

func (q *Quorum) setState(state int) {
	q.state = state
	select {
	case q.updates <- &AppState{State: state}:
	default:
	}
}

// Store exposes the durable store for direct reads. Mutations that
// need network effects go through the action methods below instead.
func (q *Quorum) Store() *store.Store {
	return q.store
}

// Search runs a query against one scope's index.
func (q *Quorum) Search(query, scope string, limit int) ([]*search.Result, error) {
	return q.search.Search(query, scope, limit)
}

// Backup exports and imports encrypted DM backups.
func (q *Quorum) Backup() *backup.Manager {
	return q.backup
}

// QueueStats reports per-status task counts for diagnostics.
func (q *Quorum) QueueStats() (*store.QueueStats, error) {
	return q.queue.Stats()
}

// AnalyzeEncryptionStates reports ratchet-state sizes and bloat.
func (q *Quorum) AnalyzeEncryptionStates() (*store.EncryptionAnalysis, error) {
	return q.store.AnalyzeEncryptionStates()
}

// Online reports the current online gate.
func (q *Quorum) Online() bool {
	return q.queue.Online()
}

// RequestSync asks a space's host for missing history.
func (q *Quorum) RequestSync(spaceID string) error {
	return q.syncer.RequestSync(spaceID)
}

// InformSyncData answers a sync inquiry with this client's own counts.
func (q *Quorum) InformSyncData(spaceID, inboxAddress, summary string) error {
	messageCount, err := q.store.CountMessages(spaceID)
	if err != nil {
		return err
	}
	memberCount, err := q.store.CountMembers(spaceID)
	if err != nil {
		return err
	}
	return q.syncer.InformSyncData(spaceID, inboxAddress, messageCount, memberCount, summary)
}

// processEnvelope decrypts one inbound envelope and applies its
// content to the store. Messages carrying a deletion tombstone are
// dropped rather than resurrected.
func (q *Quorum) processEnvelope(ctx context.Context, inboxAddress string, ciphertext []byte) error {
	conversationID, plaintext, err := q.encryptor.Decrypt(ctx, inboxAddress, ciphertext)
	if err != nil {
		return fmt.Errorf("decrypting envelope for %s: %w", inboxAddress, err)
	}

	var m store.Message
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return fmt.Errorf("decoding envelope for %s: %w", conversationID, err)
	}

	deleted, err := q.store.IsMessageDeleted(m.MessageID)
	if err != nil {
		return err
	}
	if deleted {
		q.log.Debugf("dropping tombstoned message %s", m.MessageID)
		return nil
	}

	return q.applyContent(&m, conversationID)
}

// applyContent routes a received message to the right store mutation.
// Plain posts land as rows; control content mutates its target.
func (q *Quorum) applyContent(m *store.Message, conversationID string) error {
	conversationType := store.ConversationGroup
	if m.SpaceID == m.ChannelID {
		conversationType = store.ConversationDirect
	}
	switch m.Content.Type {
	case store.ContentReaction:
		return q.store.ApplyReaction(m.SpaceID, m.ChannelID, m.Content.MessageID, m.Content.Reaction, m.Content.SenderID)
	case store.ContentRemoveReaction:
		return q.store.RemoveReaction(m.SpaceID, m.ChannelID, m.Content.MessageID, m.Content.Reaction, m.Content.SenderID)
	case store.ContentRemove:
		if err := q.store.DeleteMessage(m.Content.MessageID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	case store.ContentPin:
		if m.Content.Action == "unpin" {
			return q.store.UnpinMessage(m.Content.MessageID)
		}
		return q.store.PinMessage(m.Content.MessageID, m.Content.SenderID)
	case store.ContentMute:
		return q.applyMute(m)
	case store.ContentEdit:
		return q.applyEdit(m)
	default:
		return q.store.SaveMessage(m, m.CreatedDate, conversationID, conversationType, "", "", q.address)
	}
}

func (q *Quorum) applyMute(m *store.Message) error {
	if m.Content.Action == "unmute" {
		return q.store.DeleteMutedUser(m.SpaceID, m.Content.TargetUserID)
	}
	return q.store.SaveMutedUser(&store.MutedUser{
		SpaceID:      m.SpaceID,
		TargetUserID: m.Content.TargetUserID,
		MutedAt:      m.CreatedDate,
		LastMuteID:   m.Content.MuteID,
	})
}

func (q *Quorum) applyEdit(m *store.Message) error {
	target, err := q.store.GetMessage(m.SpaceID, m.ChannelID, m.Content.MessageID)
	if err != nil {
		return err
	}
	target.Content.Text = m.Content.EditedText
	target.Content.EditedText = m.Content.EditedText
	target.Content.EditedAt = m.Content.EditedAt
	conversationType := store.ConversationGroup
	if m.SpaceID == m.ChannelID {
		conversationType = store.ConversationDirect
	}
	return q.store.SaveMessage(target, target.CreatedDate, store.ConversationIDFor(m.SpaceID, m.ChannelID), conversationType, "", "", q.address)
}

// NewMessageID makes a message id.
func NewMessageID() string {
	return uuid.NewString()
}
